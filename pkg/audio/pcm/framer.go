package pcm

// Framer cuts an arbitrary sample stream into fixed-size frames.
// It is not safe for concurrent use.
type Framer struct {
	size int
	buf  []float32
	emit func(Frame)
}

// NewFramer returns a Framer that calls emit with each complete frame.
// Frames passed to emit are freshly allocated and owned by the callee.
func NewFramer(size int, emit func(Frame)) *Framer {
	if size <= 0 {
		size = FrameSize
	}
	return &Framer{size: size, buf: make([]float32, 0, size), emit: emit}
}

// Write appends samples, emitting every frame that becomes complete.
func (f *Framer) Write(samples []float32) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			fr := make(Frame, f.size)
			copy(fr, f.buf)
			f.buf = f.buf[:0]
			f.emit(fr)
		}
	}
}

// Pending returns the number of buffered samples.
func (f *Framer) Pending() int { return len(f.buf) }

// Flush zero-pads and emits a partial frame, if any.
func (f *Framer) Flush() {
	if len(f.buf) == 0 {
		return
	}
	fr := make(Frame, f.size)
	copy(fr, f.buf)
	f.buf = f.buf[:0]
	f.emit(fr)
}
