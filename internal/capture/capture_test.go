package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lukasbauer/callguard/internal/audio"
	"github.com/lukasbauer/callguard/internal/transcribe"
	"github.com/rs/zerolog"
)

func TestWindow_FiresOncePerFullWindow(t *testing.T) {
	var fills []int
	w := NewWindow(10, func(s []float32) { fills = append(fills, len(s)) })

	w.Append(make([]float32, 7))
	if len(fills) != 0 || w.Len() != 7 {
		t.Fatalf("after 7: fills = %v, Len() = %d", fills, w.Len())
	}
	w.Append(make([]float32, 3))
	if len(fills) != 1 || w.Len() != 0 {
		t.Fatalf("after 10: fills = %v, Len() = %d", fills, w.Len())
	}
	w.Append(make([]float32, 25))
	if len(fills) != 3 || w.Len() != 5 {
		t.Errorf("after 35: fills = %v, Len() = %d, want 3 fills and 5 buffered", fills, w.Len())
	}
	for _, n := range fills {
		if n != 10 {
			t.Errorf("fill length = %d, want 10", n)
		}
	}
}

func TestWindow_NoCarryOver(t *testing.T) {
	var firsts []float32
	w := NewWindow(4, func(s []float32) { firsts = append(firsts, s[0]) })

	w.Append([]float32{1, 2, 3, 4, 5, 6, 7, 8})
	if len(firsts) != 2 || firsts[0] != 1 || firsts[1] != 5 {
		t.Errorf("window starts = %v, want [1 5]", firsts)
	}
}

func TestWindow_DefaultSize(t *testing.T) {
	if NewWindow(0, nil).Cap() != WindowSamples {
		t.Errorf("default Cap() = %d, want %d", NewWindow(0, nil).Cap(), WindowSamples)
	}
}

type recordingSender struct {
	mu          sync.Mutex
	frames      int
	bytes       int
	transcripts []string
	accept      bool
}

func (s *recordingSender) SendAudio(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accept {
		return false
	}
	s.frames++
	s.bytes += len(frame)
	return true
}

func (s *recordingSender) SendTranscript(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, text)
	return s.accept
}

type countingSource struct {
	audio.Source
	closes atomic.Int32
}

func (c *countingSource) Close() error {
	c.closes.Add(1)
	return c.Source.Close()
}

func TestPipeline_WindowsAndForwarding(t *testing.T) {
	// two full windows plus a partial one
	pcm := make([]byte, (2*WindowSamples+1000)*audio.BytesPerSample)
	src := &countingSource{Source: audio.NewPCMSource(pcm, false)}
	tr := transcribe.NewFake("please verify your bank account otp", transcribe.WhisperPlaceholder)
	sender := &recordingSender{accept: true}

	var local []string
	p, err := Open(src, Config{OnTranscript: func(text string) { local = append(local, text) }}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	err = p.Run(context.Background(), sender, tr)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Run() error = %v, want io.EOF", err)
	}

	if tr.Calls() != 2 {
		t.Errorf("transcriber calls = %d, want 2", tr.Calls())
	}
	for _, n := range tr.WindowLengths() {
		if n != WindowSamples {
			t.Errorf("window length = %d, want %d", n, WindowSamples)
		}
	}
	if sender.bytes != len(pcm) {
		t.Errorf("forwarded %d bytes, want %d", sender.bytes, len(pcm))
	}
	if len(sender.transcripts) != 1 || sender.transcripts[0] != "please verify your bank account otp" {
		t.Errorf("transcripts = %q, placeholder must be filtered", sender.transcripts)
	}
	if len(local) != 1 {
		t.Errorf("OnTranscript calls = %d, want 1", len(local))
	}
	if src.closes.Load() != 1 {
		t.Errorf("source closed %d times, want 1", src.closes.Load())
	}

	st := p.Stats()
	if st.Windows != 2 || st.Transcripts != 1 || st.Bytes != uint64(len(pcm)) {
		t.Errorf("Stats() = %+v", st)
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done() not closed after Run")
	}

	if err := p.Run(context.Background(), sender, tr); err == nil {
		t.Error("second Run() should fail")
	}
}

func TestPipeline_DropsWhenDisconnected(t *testing.T) {
	pcm := make([]byte, 10*audio.FrameBytes)
	sender := &recordingSender{accept: false}

	p, err := Open(audio.NewPCMSource(pcm, false), Config{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Run(context.Background(), sender, nil)

	st := p.Stats()
	if st.Frames != 10 || st.Forwarded != 0 {
		t.Errorf("Stats() = %+v, want 10 frames and 0 forwarded", st)
	}
}

func TestPipeline_StopsOnCancel(t *testing.T) {
	src := &countingSource{Source: audio.NewPCMSource(make([]byte, audio.SampleRate*2*60), true)}
	p, err := Open(src, Config{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, &recordingSender{accept: true}, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if src.closes.Load() != 1 {
		t.Errorf("source closed %d times, want 1", src.closes.Load())
	}
}

func TestPipeline_TranscriberFailureDisables(t *testing.T) {
	pcm := make([]byte, 3*WindowSamples*audio.BytesPerSample)
	var failures int
	p, _ := Open(audio.NewPCMSource(pcm, false), Config{
		OnTranscriberError: func(error) { failures++ },
	}, zerolog.Nop())

	tr := &failingTranscriber{}
	p.Run(context.Background(), &recordingSender{accept: true}, tr)

	if tr.calls != 1 {
		t.Errorf("transcriber calls = %d, want 1", tr.calls)
	}
	if failures != 1 {
		t.Errorf("OnTranscriberError calls = %d, want 1", failures)
	}
	if p.Stats().Windows != 3 {
		t.Errorf("Windows = %d, want 3", p.Stats().Windows)
	}
}

type failingTranscriber struct{ calls int }

func (f *failingTranscriber) Name() string { return "failing" }
func (f *failingTranscriber) Transcribe(context.Context, []float32) (string, error) {
	f.calls++
	return "", transcribe.ErrUnavailable
}
func (f *failingTranscriber) Close() error { return nil }

type brokenSource struct {
	openErr, startErr error
	closes            int
}

func (b *brokenSource) Open() error                               { return b.openErr }
func (b *brokenSource) Start() error                              { return b.startErr }
func (b *brokenSource) Read(context.Context, []byte) (int, error) { return 0, io.EOF }
func (b *brokenSource) Close() error                              { b.closes++; return nil }
func (b *brokenSource) Name() string                              { return "broken" }

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  *brokenSource
		want error
	}{
		{"open fails", &brokenSource{openErr: errors.New("no mic")}, audio.ErrDeviceUnavailable},
		{"start fails", &brokenSource{startErr: errors.New("not recording")}, audio.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.src, Config{}, zerolog.Nop())
			if !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
			if tt.src.closes != 1 {
				t.Errorf("source closed %d times, want 1", tt.src.closes)
			}
		})
	}
}

func TestAbandon(t *testing.T) {
	src := &countingSource{Source: audio.NewPCMSource(nil, false)}
	p, err := Open(src, Config{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Abandon()
	p.Abandon()
	<-p.Done()
	if src.closes.Load() != 1 {
		t.Errorf("source closed %d times, want 1", src.closes.Load())
	}
}
