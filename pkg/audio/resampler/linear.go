package resampler

// LinearResampler is a streaming linear-interpolation converter.
type LinearResampler struct {
	step   float64 // input samples per output sample
	pos    float64 // position of the next output sample, relative to prev
	prev   float32 // last input sample of the previous chunk
	primed bool
}

// NewLinear returns a linear converter from srcRate to dstRate.
func NewLinear(srcRate, dstRate int) *LinearResampler {
	return &LinearResampler{step: float64(srcRate) / float64(dstRate)}
}

// Process implements Resampler. It never fails.
//
// Output sample k of the whole stream sits at input position k*step and is
// interpolated from the two input samples around it. The sample preceding
// the current chunk is remembered so positions that straddle a chunk
// boundary interpolate correctly.
func (r *LinearResampler) Process(in []float32) ([]float32, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if !r.primed {
		// The stream starts exactly at the first input sample.
		r.prev = in[0]
		in = in[1:]
		r.primed = true
	}

	// Index -1 is r.prev, index i is in[i].
	at := func(i int) float32 {
		if i < 0 {
			return r.prev
		}
		return in[i]
	}

	out := make([]float32, 0, int(float64(len(in))/r.step)+1)
	for {
		base := int(r.pos) - 1
		if base+1 >= len(in) {
			break
		}
		frac := float32(r.pos - float64(int(r.pos)))
		a, b := at(base), at(base+1)
		out = append(out, a+(b-a)*frac)
		r.pos += r.step
	}

	if len(in) > 0 {
		r.prev = in[len(in)-1]
		r.pos -= float64(len(in))
	}
	return out, nil
}

// Reset forgets the stream position.
func (r *LinearResampler) Reset() {
	r.pos, r.prev, r.primed = 0, 0, false
}
