package audio

import (
	"context"
	"sync"
	"sync/atomic"
)

const frameQueue = 64

// frameReader turns a push-style capture callback into a pull-style Read.
// Frames that arrive while the queue is full are dropped.
type frameReader struct {
	frames  chan []byte
	closed  chan struct{}
	once    sync.Once
	dropped atomic.Uint64

	pending []byte
}

func newFrameReader() *frameReader {
	return &frameReader{
		frames: make(chan []byte, frameQueue),
		closed: make(chan struct{}),
	}
}

// push is called from the device callback. data is copied.
func (r *frameReader) push(data []byte) {
	if len(data) == 0 {
		return
	}
	select {
	case <-r.closed:
		return
	default:
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case r.frames <- frame:
	default:
		r.dropped.Add(1)
	}
}

func (r *frameReader) read(ctx context.Context, p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-r.closed:
		return 0, ErrClosed
	case frame := <-r.frames:
		n := copy(p, frame)
		if n < len(frame) {
			r.pending = frame[n:]
		}
		return n, nil
	}
}

func (r *frameReader) close() {
	r.once.Do(func() { close(r.closed) })
}

// Dropped returns the number of frames discarded because the reader fell
// behind the device.
func (r *frameReader) Dropped() uint64 {
	return r.dropped.Load()
}

func int16ToBytes(dst []byte, samples []int16) []byte {
	if cap(dst) < len(samples)*2 {
		dst = make([]byte, len(samples)*2)
	}
	dst = dst[:len(samples)*2]
	for i, s := range samples {
		dst[i*2] = byte(s)
		dst[i*2+1] = byte(uint16(s) >> 8)
	}
	return dst
}
