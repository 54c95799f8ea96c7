package fbank

import (
	"math"
	"math/bits"
)

// fftPlan holds the bit-reversal permutation and twiddle factors of one
// power-of-two transform size. It is read-only after newFFTPlan.
type fftPlan struct {
	n   int
	rev []int
	cos []float64
	sin []float64
}

func newFFTPlan(n int) *fftPlan {
	p := &fftPlan{
		n:   n,
		rev: make([]int, n),
		cos: make([]float64, n/2),
		sin: make([]float64, n/2),
	}
	shift := bits.UintSize - bits.Len(uint(n-1))
	for i := range p.rev {
		if n > 1 {
			p.rev[i] = int(bits.Reverse(uint(i)) >> shift)
		}
	}
	for k := range p.cos {
		a := -2 * math.Pi * float64(k) / float64(n)
		p.cos[k], p.sin[k] = math.Cos(a), math.Sin(a)
	}
	return p
}

// transform runs an in-place radix-2 FFT. re and im have length n.
func (p *fftPlan) transform(re, im []float64) {
	n := p.n
	for i, j := range p.rev {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		stride := n / size
		for start := 0; start < n; start += size {
			for k := range half {
				wr, wi := p.cos[k*stride], p.sin[k*stride]
				u, v := start+k, start+k+half
				tr := wr*re[v] - wi*im[v]
				ti := wr*im[v] + wi*re[v]
				re[v], im[v] = re[u]-tr, im[u]-ti
				re[u] += tr
				im[u] += ti
			}
		}
	}
}

// power writes |X[k]|² for the n/2+1 non-negative frequency bins.
func (p *fftPlan) power(re, im, out []float64) {
	for k := range out {
		out[k] = re[k]*re[k] + im[k]*im[k]
	}
}
