//go:build !linux

package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

type malgoDevice struct {
	deviceID string
	frames   *frameReader

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	closed bool
}

// NewDevice returns a miniaudio capture source. deviceID is the hex encoded
// miniaudio device id; empty selects the system default.
func NewDevice(deviceID string) Source {
	return &malgoDevice{deviceID: deviceID, frames: newFrameReader()}
}

func (d *malgoDevice) Name() string {
	if d.deviceID == "" {
		return "malgo:default"
	}
	return "malgo:" + d.deviceID
}

func (d *malgoDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: malgo context: %v", ErrDeviceUnavailable, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = Channels
	cfg.SampleRate = SampleRate

	if d.deviceID != "" {
		idBytes, err := hex.DecodeString(d.deviceID)
		if err != nil {
			freeContext(ctx)
			return fmt.Errorf("%w: invalid device id: %v", ErrDeviceUnavailable, err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		cfg.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			d.frames.push(data)
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(ctx)
		return fmt.Errorf("%w: malgo device: %v", ErrDeviceUnavailable, err)
	}

	d.ctx = ctx
	d.device = dev
	return nil
}

func (d *malgoDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return fmt.Errorf("%w: device not open", ErrInvalidState)
	}
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !d.device.IsStarted() {
		return ErrInvalidState
	}
	return nil
}

func (d *malgoDevice) Read(ctx context.Context, p []byte) (int, error) {
	return d.frames.read(ctx, p)
}

func (d *malgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.frames.close()
	if d.device != nil {
		d.device.Uninit()
	}
	if d.ctx != nil {
		freeContext(d.ctx)
	}
	return nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

type malgoPlayer struct{}

// NewPlayer returns a miniaudio output.
func NewPlayer() Player {
	return malgoPlayer{}
}

func (malgoPlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) < 2 {
		return nil
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo context: %w", err)
	}
	defer freeContext(mctx)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)

	var (
		mu   sync.Mutex
		pos  int
		once sync.Once
	)
	done := make(chan struct{})
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			mu.Lock()
			n := copy(out, pcm[pos:])
			pos += n
			finished := pos >= len(pcm)
			mu.Unlock()
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
			if finished {
				once.Do(func() { close(done) })
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("malgo device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgo start: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	return dev.Stop()
}
