package audio

import "sync"

// Framer accumulates captured samples and cuts them into fixed-size frames,
// one per capture tick. Leftover samples stay pending until the next write.
type Framer struct {
	size int
	rate int

	mu      sync.Mutex
	pending []int16
}

// NewFramer creates a framer emitting frames of size samples at rate.
func NewFramer(size, rate int) *Framer {
	if size <= 0 {
		size = CaptureBufferSize
	}
	return &Framer{
		size:    size,
		rate:    rate,
		pending: make([]int16, 0, size),
	}
}

// Size returns the frame size in samples.
func (fr *Framer) Size() int {
	return fr.size
}

// Write appends samples and returns every complete frame now available, in
// capture order.
func (fr *Framer) Write(samples []int16) []Frame {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	fr.pending = append(fr.pending, samples...)
	if len(fr.pending) < fr.size {
		return nil
	}

	n := len(fr.pending) / fr.size
	frames := make([]Frame, 0, n)
	for i := range n {
		buf := make([]int16, fr.size)
		copy(buf, fr.pending[i*fr.size:(i+1)*fr.size])
		frames = append(frames, Frame{Samples: buf, SampleRate: fr.rate})
	}

	rest := copy(fr.pending, fr.pending[n*fr.size:])
	fr.pending = fr.pending[:rest]
	return frames
}

// Pending returns the number of samples waiting for a full frame.
func (fr *Framer) Pending() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.pending)
}

// Reset drops pending samples.
func (fr *Framer) Reset() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.pending = fr.pending[:0]
}
