// Package audio provides microphone capture, PCM file replay and playback
// for 16 kHz mono linear16 audio.
package audio

import (
	"context"
	"errors"
)

const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
	WAVHeaderSize  = 44

	// FrameSamples is the number of samples in one capture frame (32 ms).
	FrameSamples = 512
	FrameBytes   = FrameSamples * BytesPerSample
)

var (
	// ErrDeviceUnavailable means the audio source could not be opened or
	// initialised.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrInvalidState means the source initialised but recording did not start.
	ErrInvalidState = errors.New("audio recording did not start")
	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("audio source closed")
)

// Source is a 16 kHz mono 16-bit PCM producer.
//
// Open acquires the underlying device and Start begins recording. Read
// blocks until at least one byte is available, the context is done, or the
// source fails. Close releases the device and is safe to call more than once.
type Source interface {
	Open() error
	Start() error
	Read(ctx context.Context, p []byte) (int, error)
	Close() error
	Name() string
}

// Player renders 16-bit mono PCM on the default output device. Play returns
// once the samples have been drained or ctx is done.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}
