//go:build linux

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

type pulseDevice struct {
	sourceID string
	frames   *frameReader

	mu     sync.Mutex
	client *pulse.Client
	stream *pulse.RecordStream
	buf    []byte
	closed bool
}

// NewDevice returns a PulseAudio capture source. An empty sourceID selects
// the server default.
func NewDevice(sourceID string) Source {
	return &pulseDevice{sourceID: sourceID, frames: newFrameReader()}
}

func (d *pulseDevice) Name() string {
	if d.sourceID == "" {
		return "pulse:default"
	}
	return "pulse:" + d.sourceID
}

func (d *pulseDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := pulse.NewClient()
	if err != nil {
		return fmt.Errorf("%w: pulse: %v", ErrDeviceUnavailable, err)
	}

	writer := pulse.Int16Writer(func(samples []int16) (int, error) {
		if len(samples) == 0 {
			return 0, nil
		}
		d.buf = int16ToBytes(d.buf, samples)
		d.frames.push(d.buf)
		return len(samples), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordLatency(0.05),
	}
	if d.sourceID != "" {
		source, err := c.SourceByID(d.sourceID)
		if err != nil {
			c.Close()
			return fmt.Errorf("%w: pulse source %q: %v", ErrDeviceUnavailable, d.sourceID, err)
		}
		opts = append(opts, pulse.RecordSource(source))
	}

	stream, err := c.NewRecord(writer, opts...)
	if err != nil {
		c.Close()
		return fmt.Errorf("%w: pulse record: %v", ErrDeviceUnavailable, err)
	}

	d.client = c
	d.stream = stream
	return nil
}

func (d *pulseDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return fmt.Errorf("%w: device not open", ErrInvalidState)
	}
	d.stream.Start()
	if !d.stream.Running() {
		if err := d.stream.Error(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return ErrInvalidState
	}
	return nil
}

func (d *pulseDevice) Read(ctx context.Context, p []byte) (int, error) {
	return d.frames.read(ctx, p)
}

func (d *pulseDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.frames.close()
	if d.stream != nil {
		d.stream.Stop()
		d.stream.Close()
	}
	if d.client != nil {
		d.client.Close()
	}
	return nil
}

type pulsePlayer struct{}

// NewPlayer returns a PulseAudio output.
func NewPlayer() Player {
	return pulsePlayer{}
}

func (pulsePlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) < 2 {
		return nil
	}
	c, err := pulse.NewClient()
	if err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	defer c.Close()

	samples := bytesToInt16(pcm)
	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})

	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	stream.Stop()
	return stream.Error()
}
