package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func pcmOf(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestEnergyDB(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, SilenceDB},
		{"zeros", pcmOf(0, 0, 0, 0), SilenceDB},
		{"full scale", pcmOf(-32768, -32768), 0},
		{"half scale", pcmOf(16384, -16384), 20 * math.Log10(0.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnergyDB(tt.pcm)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("EnergyDB() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize(nil, pcmOf(0, 16384, -32768, 32767))
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}

	// odd trailing byte is ignored
	if n := len(Normalize(nil, []byte{1, 2, 3})); n != 1 {
		t.Errorf("odd input len = %d, want 1", n)
	}
}

func TestPattern(t *testing.T) {
	ms := time.Millisecond
	timings := []time.Duration{0, 500 * ms, 200 * ms, 500 * ms, 200 * ms, 500 * ms}
	got := Pattern(SampleRate, 440, timings, 0.5)

	wantSamples := SampleRate * 1900 / 1000
	if len(got) != wantSamples*2 {
		t.Errorf("len = %d bytes, want %d", len(got), wantSamples*2)
	}

	// the 200 ms gap after the first pulse is silent
	gapStart := SampleRate / 2 * 2
	for i := gapStart; i < gapStart+SampleRate/5*2; i++ {
		if got[i] != 0 {
			t.Fatalf("byte %d = %d, want silence", i, got[i])
		}
	}
	if EnergyDB(got[:gapStart]) < -20 {
		t.Error("first pulse should be audible")
	}
}

func TestFileSource_WAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "call.wav")

	header := make([]byte, WAVHeaderSize)
	copy(header, "RIFF")
	body := pcmOf(1, 2, 3, 4, 5)
	if err := os.WriteFile(path, append(header, body...), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(path, false)
	if err := src.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	buf := make([]byte, 4)
	var got []byte
	for {
		n, err := src.Read(context.Background(), buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != string(body) {
		t.Errorf("read %v, want %v", got, body)
	}
}

func TestFileSource_Errors(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.wav"), false)
	if err := src.Open(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Open() error = %v, want ErrDeviceUnavailable", err)
	}
	if err := src.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start() error = %v, want ErrInvalidState", err)
	}

	mem := NewPCMSource(pcmOf(1, 2), false)
	mem.Start()
	mem.Close()
	mem.Close()
	if _, err := mem.Read(context.Background(), make([]byte, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Read() after Close error = %v, want ErrClosed", err)
	}
	if !mem.Closed() {
		t.Error("Closed() = false")
	}
}

func TestFileSource_RealtimeCancel(t *testing.T) {
	src := NewPCMSource(make([]byte, SampleRate*2*10), true)
	src.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Read(ctx, make([]byte, SampleRate*2)); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestFrameReader(t *testing.T) {
	r := newFrameReader()
	r.push([]byte{1, 2, 3, 4, 5, 6})

	buf := make([]byte, 4)
	n, err := r.read(context.Background(), buf)
	if err != nil || n != 4 {
		t.Fatalf("read() = %d, %v", n, err)
	}
	n, _ = r.read(context.Background(), buf)
	if n != 2 || buf[0] != 5 || buf[1] != 6 {
		t.Errorf("second read = %v", buf[:n])
	}

	for i := 0; i < frameQueue+5; i++ {
		r.push([]byte{1})
	}
	if r.Dropped() != 5 {
		t.Errorf("Dropped() = %d, want 5", r.Dropped())
	}

	r.close()
	r.close()
	// queued frames may still be drained, but eventually ErrClosed
	for i := 0; i < frameQueue+1; i++ {
		if _, err := r.read(context.Background(), buf); errors.Is(err, ErrClosed) {
			return
		}
	}
	t.Error("read() never returned ErrClosed")
}

func TestOpenSource(t *testing.T) {
	tests := []struct {
		spec    string
		want    string
		wantErr bool
	}{
		{"file:/tmp/a.wav", "file:/tmp/a.wav", false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		src, err := OpenSource(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("OpenSource(%q) error = %v", tt.spec, err)
			continue
		}
		if err == nil && src.Name() != tt.want {
			t.Errorf("OpenSource(%q).Name() = %q, want %q", tt.spec, src.Name(), tt.want)
		}
	}
}
