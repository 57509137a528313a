// Package transcribe defines the on-device speech-to-text contract used by
// the capture pipeline.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrUnavailable means the local model is missing or unusable. Callers
// continue without local detection.
var ErrUnavailable = errors.New("local transcription unavailable")

// WhisperPlaceholder is what the model engine returns until a real decoder
// is wired in. It never reaches the analysis service.
const WhisperPlaceholder = " [Local Whisper] Transcription not fully implemented without DSP library. Audio received."

var placeholders = []string{
	strings.TrimSpace(WhisperPlaceholder),
	"[BLANK_AUDIO]",
	"[inaudible]",
	"(silence)",
}

// IsPlaceholder reports whether text is empty or a known non-speech marker.
func IsPlaceholder(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	for _, p := range placeholders {
		if strings.EqualFold(t, p) {
			return true
		}
	}
	return false
}

// Transcriber converts one window of normalized 16 kHz samples into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, window []float32) (string, error)
	Close() error
}

// Model file names searched in a model directory, best first.
var modelNames = []string{"whisper-small.tflite", "whisper-tiny.tflite", "ggml-small.bin", "ggml-tiny.bin"}

// Whisper is the local model engine. Loading validates that a model file is
// present; inference currently yields WhisperPlaceholder.
type Whisper struct {
	modelPath string

	mu     sync.Mutex
	closed bool
}

// NewWhisper locates a model at path, which may be a model file or a
// directory containing one of the known model names.
func NewWhisper(path string) (*Whisper, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrUnavailable)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return &Whisper{modelPath: path}, nil
	}
	for _, name := range modelNames {
		candidate := filepath.Join(path, name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() && st.Size() > 0 {
			return &Whisper{modelPath: candidate}, nil
		}
	}
	return nil, fmt.Errorf("%w: no model in %s", ErrUnavailable, path)
}

func (w *Whisper) Name() string {
	return "whisper:" + filepath.Base(w.modelPath)
}

// ModelPath returns the resolved model file.
func (w *Whisper) ModelPath() string {
	return w.modelPath
}

func (w *Whisper) Transcribe(ctx context.Context, window []float32) (string, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return "", fmt.Errorf("%w: engine closed", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(window) == 0 {
		return "", nil
	}
	return WhisperPlaceholder, nil
}

func (w *Whisper) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}
