package audio

// Resample converts f to dstRate using linear interpolation. Frames already at
// dstRate are returned unchanged.
func Resample(f Frame, dstRate int) Frame {
	if f.SampleRate <= 0 || dstRate <= 0 || f.SampleRate == dstRate {
		return f
	}
	src := f.Samples
	if len(src) == 0 {
		return Frame{SampleRate: dstRate}
	}
	dstLen := int(int64(len(src)) * int64(dstRate) / int64(f.SampleRate))
	out := make([]int16, dstLen)
	ratio := float64(f.SampleRate) / float64(dstRate)

	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := src[idx]
		s1 := s0
		if idx+1 < len(src) {
			s1 = src[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return Frame{Samples: out, SampleRate: dstRate}
}

// Decimate keeps every n-th sample. It is the cheap path used for exact
// integer ratios such as 24 kHz to 8 kHz on telephone legs.
func Decimate(f Frame, n int) Frame {
	if n <= 1 {
		return f
	}
	out := make([]int16, 0, len(f.Samples)/n+1)
	for i := 0; i < len(f.Samples); i += n {
		out = append(out, f.Samples[i])
	}
	return Frame{Samples: out, SampleRate: f.SampleRate / n}
}

// Resampler converts a stream of frames to one rate with linear
// interpolation. The interpolation phase and the last sample of the previous
// frame carry over between calls, so how a stream is split into frames does
// not change the output. It is not safe for concurrent use.
type Resampler struct {
	dst int
	src int
	// phase is the position of the next output sample, in source samples
	// scaled by dst, relative to the first sample of the next frame.
	phase int64
	last  int16
}

// NewResampler returns a Resampler producing dstRate audio.
func NewResampler(dstRate int) *Resampler {
	return &Resampler{dst: dstRate}
}

// Process resamples the next frame of the stream. A frame at a different
// source rate than the one before starts a new stream.
func (r *Resampler) Process(f Frame) Frame {
	if f.SampleRate <= 0 || r.dst <= 0 || f.SampleRate == r.dst {
		return f
	}
	if f.SampleRate != r.src {
		r.Reset()
		r.src = f.SampleRate
	}
	n := int64(len(f.Samples))
	if n == 0 {
		return Frame{SampleRate: r.dst}
	}

	dst, step := int64(r.dst), int64(r.src)
	out := make([]int16, 0, n*dst/step+1)
	// The sample at n-1 is only interpolated once the next frame is known.
	for limit := (n - 1) * dst; r.phase < limit; r.phase += step {
		idx, rem := floorDiv(r.phase, dst)
		s0 := r.last
		if idx >= 0 {
			s0 = f.Samples[idx]
		}
		s1 := f.Samples[idx+1]
		out = append(out, int16(int64(s0)+(int64(s1)-int64(s0))*rem/dst))
	}
	r.phase -= n * dst
	r.last = f.Samples[n-1]
	return Frame{Samples: out, SampleRate: r.dst}
}

// Reset forgets the stream position.
func (r *Resampler) Reset() {
	r.src, r.phase, r.last = 0, 0, 0
}

func floorDiv(a, b int64) (q, rem int64) {
	q, rem = a/b, a%b
	if rem < 0 {
		q--
		rem += b
	}
	return q, rem
}
