package transcribe

import (
	"context"
	"sync"
)

// Fake returns scripted texts, one per call, then empty strings.
type Fake struct {
	mu      sync.Mutex
	texts   []string
	calls   int
	lengths []int
	closed  bool
}

// NewFake creates a Fake that replies with texts in order.
func NewFake(texts ...string) *Fake {
	return &Fake{texts: texts}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Transcribe(_ context.Context, window []float32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lengths = append(f.lengths, len(window))
	i := f.calls
	f.calls++
	if i < len(f.texts) {
		return f.texts[i], nil
	}
	return "", nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Calls returns how many windows were transcribed.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// WindowLengths returns the sample count of every window received.
func (f *Fake) WindowLengths() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.lengths...)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
