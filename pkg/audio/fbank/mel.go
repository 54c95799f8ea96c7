package fbank

import "math"

// hammingWindow returns a symmetric Hamming window of length n.
func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// hzToMel uses the Kaldi mel scale, 1127·ln(1 + f/700).
func hzToMel(hz float64) float64 {
	return 1127 * math.Log1p(hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * math.Expm1(mel/1127)
}

// melFilter is one triangular filter stored sparsely: weights[i] applies
// to power bin start+i.
type melFilter struct {
	start   int
	weights []float64
}

// melBank is the set of triangular filters over the power spectrum.
type melBank []melFilter

// newMelBank spaces numMels triangles evenly on the mel scale between
// lowFreq and highFreq. Edges are rounded to FFT bins, and every filter
// spans at least one bin.
func newMelBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) melBank {
	bins := fftSize/2 + 1
	lo, hi := hzToMel(lowFreq), hzToMel(highFreq)
	step := (hi - lo) / float64(numMels+1)

	edges := make([]int, numMels+2)
	for i := range edges {
		hz := melToHz(lo + float64(i)*step)
		edges[i] = min(int(math.Round(hz*float64(fftSize)/float64(sampleRate))), bins-1)
		if i > 0 && edges[i] <= edges[i-1] {
			edges[i] = edges[i-1] + 1
		}
	}

	bank := make(melBank, numMels)
	for m := range bank {
		left, center, right := edges[m], edges[m+1], min(edges[m+2], bins-1)
		f := melFilter{start: left}
		for k := left; k <= right; k++ {
			var w float64
			switch {
			case k < center:
				w = float64(k-left) / float64(center-left)
			case right > center:
				w = float64(right-k) / float64(right-center)
			case k == center:
				w = 1
			}
			f.weights = append(f.weights, w)
		}
		bank[m] = f
	}
	return bank
}

// apply writes the log filter energies of power into out, flooring each
// energy at 1e-10 before the log.
func (b melBank) apply(power []float64, out []float32) {
	for m, f := range b {
		var sum float64
		for i, w := range f.weights {
			sum += w * power[f.start+i]
		}
		out[m] = float32(math.Log(math.Max(sum, 1e-10)))
	}
}
