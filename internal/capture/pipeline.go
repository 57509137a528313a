// Package capture reads microphone audio for the duration of a call,
// forwarding raw frames to the stream and windowed samples to the local
// transcriber.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lukasbauer/callguard/internal/audio"
	"github.com/lukasbauer/callguard/internal/transcribe"
	"github.com/rs/zerolog"
)

// Sender receives captured audio and local transcripts. Both methods are
// best-effort and must not block.
type Sender interface {
	SendAudio(frame []byte) bool
	SendTranscript(text string) bool
}

// Config tunes a Pipeline. Zero values select defaults.
type Config struct {
	FrameBytes    int
	WindowSamples int
	// OnTranscript is called with every accepted local transcript after it
	// was handed to the Sender.
	OnTranscript func(text string)
	// OnTranscriberError is called once when the transcriber fails; local
	// transcription is disabled for the rest of the run.
	OnTranscriberError func(err error)
}

// Stats are counters for one pipeline run.
type Stats struct {
	Frames      uint64 `json:"frames"`
	Bytes       uint64 `json:"bytes"`
	Forwarded   uint64 `json:"forwarded"`
	Windows     uint64 `json:"windows"`
	Transcripts uint64 `json:"transcripts"`
}

// Pipeline owns one opened audio source.
type Pipeline struct {
	src audio.Source
	cfg Config
	log zerolog.Logger

	done        chan struct{}
	releaseOnce sync.Once
	running     atomic.Bool

	frames      atomic.Uint64
	bytes       atomic.Uint64
	forwarded   atomic.Uint64
	windows     atomic.Uint64
	transcripts atomic.Uint64
}

// Open opens and starts src. Errors wrap audio.ErrDeviceUnavailable or
// audio.ErrInvalidState; on failure the source is already released.
func Open(src audio.Source, cfg Config, logger zerolog.Logger) (*Pipeline, error) {
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = audio.FrameBytes
	}
	if cfg.WindowSamples <= 0 {
		cfg.WindowSamples = WindowSamples
	}
	p := &Pipeline{
		src:  src,
		cfg:  cfg,
		log:  logger.With().Str("component", "capture").Str("source", src.Name()).Logger(),
		done: make(chan struct{}),
	}

	if err := src.Open(); err != nil {
		p.release()
		close(p.done)
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
		return nil, err
	}
	if err := src.Start(); err != nil {
		p.release()
		close(p.done)
		if !errors.Is(err, audio.ErrInvalidState) {
			err = fmt.Errorf("%w: %v", audio.ErrInvalidState, err)
		}
		return nil, err
	}

	p.log.Info().Int("frame_bytes", cfg.FrameBytes).Msg("capture started")
	return p, nil
}

// Run reads frames until ctx is done or the source fails. It returns nil on
// cancellation and the read error otherwise. The source is released exactly
// once when Run returns. Run may only be called once.
func (p *Pipeline) Run(ctx context.Context, sender Sender, tr transcribe.Transcriber) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("capture pipeline already running")
	}
	defer close(p.done)
	defer p.release()

	window := NewWindow(p.cfg.WindowSamples, func(samples []float32) {
		p.windows.Add(1)
		if tr == nil {
			return
		}
		text, err := tr.Transcribe(ctx, samples)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn().Err(err).Str("engine", tr.Name()).Msg("local transcription failed, disabling")
			if p.cfg.OnTranscriberError != nil {
				p.cfg.OnTranscriberError(err)
			}
			tr = nil
			return
		}
		if transcribe.IsPlaceholder(text) {
			return
		}
		p.transcripts.Add(1)
		sender.SendTranscript(text)
		if p.cfg.OnTranscript != nil {
			p.cfg.OnTranscript(text)
		}
	})

	buf := make([]byte, p.cfg.FrameBytes)
	samples := make([]float32, 0, p.cfg.FrameBytes/audio.BytesPerSample)
	var sinceLevel int
	const levelEvery = audio.SampleRate * audio.BytesPerSample

	for {
		n, err := p.src.Read(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Debug().Msg("capture loop stopped")
				return nil
			}
			p.log.Error().Err(err).Msg("audio read failed")
			return fmt.Errorf("audio read: %w", err)
		}
		if n <= 0 {
			continue
		}
		frame := buf[:n]
		p.frames.Add(1)
		p.bytes.Add(uint64(n))

		sinceLevel += n
		if sinceLevel >= levelEvery {
			sinceLevel = 0
			p.log.Trace().Float64("energy_db", audio.EnergyDB(frame)).Msg("level")
		}

		if sender.SendAudio(frame) {
			p.forwarded.Add(1)
		}

		samples = audio.Normalize(samples, frame)
		window.Append(samples)
	}
}

// Done is closed once the pipeline has stopped and released its source.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:      p.frames.Load(),
		Bytes:       p.bytes.Load(),
		Forwarded:   p.forwarded.Load(),
		Windows:     p.windows.Load(),
		Transcripts: p.transcripts.Load(),
	}
}

// Abandon releases the source of a pipeline whose Run was never called.
func (p *Pipeline) Abandon() {
	if p.running.CompareAndSwap(false, true) {
		p.release()
		close(p.done)
	}
}

func (p *Pipeline) release() {
	p.releaseOnce.Do(func() {
		if err := p.src.Close(); err != nil {
			p.log.Warn().Err(err).Msg("closing audio source")
		}
	})
}
