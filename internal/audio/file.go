package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileSource replays a 16 kHz mono 16-bit WAV (or raw PCM) file as if it
// were a microphone. Read returns io.EOF once the file is exhausted.
type FileSource struct {
	path     string
	realtime bool

	mu     sync.Mutex
	pcm    []byte
	pos    int
	open   bool
	start  bool
	closed chan struct{}
	once   sync.Once
	next   time.Time
}

// NewFileSource creates a file-backed source. With realtime set, Read is
// paced to the sample rate.
func NewFileSource(path string, realtime bool) *FileSource {
	return &FileSource{path: path, realtime: realtime, closed: make(chan struct{})}
}

// NewPCMSource wraps in-memory PCM. It is used by tests and by replay tools.
func NewPCMSource(pcm []byte, realtime bool) *FileSource {
	return &FileSource{pcm: pcm, open: true, realtime: realtime, closed: make(chan struct{})}
}

func (f *FileSource) Name() string {
	if f.path == "" {
		return "pcm:memory"
	}
	return "file:" + f.path
}

func (f *FileSource) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if len(data) > WAVHeaderSize && string(data[:4]) == "RIFF" {
		data = data[WAVHeaderSize:]
	}
	f.pcm = data
	f.open = true
	return nil
}

func (f *FileSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return fmt.Errorf("%w: file not open", ErrInvalidState)
	}
	f.start = true
	f.next = time.Now()
	return nil
}

func (f *FileSource) Read(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	if !f.start {
		f.mu.Unlock()
		return 0, ErrInvalidState
	}
	if f.pos >= len(f.pcm) {
		f.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(p, f.pcm[f.pos:])
	f.pos += n
	var wait time.Duration
	if f.realtime {
		f.next = f.next.Add(time.Duration(n/BytesPerSample) * time.Second / SampleRate)
		wait = time.Until(f.next)
	}
	f.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-f.closed:
			return 0, ErrClosed
		case <-timer.C:
		}
	}
	select {
	case <-f.closed:
		return 0, ErrClosed
	default:
	}
	return n, nil
}

func (f *FileSource) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// Closed reports whether Close was called.
func (f *FileSource) Closed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// OpenSource parses a source spec: "device", "device:<id>" or "file:<path>".
func OpenSource(spec string) (Source, error) {
	switch {
	case spec == "" || spec == "device":
		return NewDevice(""), nil
	case len(spec) > 7 && spec[:7] == "device:":
		return NewDevice(spec[7:]), nil
	case len(spec) > 5 && spec[:5] == "file:":
		return NewFileSource(spec[5:], true), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", spec)
	}
}
