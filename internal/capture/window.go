package capture

// WindowSamples is four seconds of 16 kHz audio.
const WindowSamples = 64000

// Window accumulates normalized samples into a fixed-size buffer and hands
// the full buffer to onFull before resetting. Partial content is never
// carried into the next window.
//
// The slice passed to onFull is reused; callers must not retain it.
type Window struct {
	buf    []float32
	idx    int
	onFull func([]float32)
}

// NewWindow creates a window of size samples. size <= 0 selects WindowSamples.
func NewWindow(size int, onFull func([]float32)) *Window {
	if size <= 0 {
		size = WindowSamples
	}
	return &Window{buf: make([]float32, size), onFull: onFull}
}

// Append adds samples one at a time, firing onFull each time the buffer
// reaches capacity.
func (w *Window) Append(samples []float32) {
	for _, s := range samples {
		w.buf[w.idx] = s
		w.idx++
		if w.idx == len(w.buf) {
			if w.onFull != nil {
				w.onFull(w.buf)
			}
			w.idx = 0
		}
	}
}

// Len returns the number of samples currently buffered.
func (w *Window) Len() int {
	return w.idx
}

// Cap returns the window size.
func (w *Window) Cap() int {
	return len(w.buf)
}
