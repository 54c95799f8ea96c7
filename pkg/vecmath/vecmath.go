// Package vecmath provides the small set of vector operations shared by the
// speaker embedder, the speaker library and the clustering code.
//
// All functions accept float32 slices and accumulate in float64 so that
// results do not depend on the order vectors are supplied in beyond the
// usual floating point rounding.
package vecmath

import "math"

// Dot returns the dot product of a and b. Extra elements of the longer
// slice are ignored.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// A zero vector on either side yields 0.
func CosineSimilarity(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	s := dot / denom
	// Clamp rounding overshoot so CosineDistance(a, a) is exactly 0.
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return float32(s)
}

// CosineDistance returns 1 - CosineSimilarity(a, b), in [0, 2].
func CosineDistance(a, b []float32) float32 {
	return 1 - CosineSimilarity(a, b)
}

// L2Norm returns the Euclidean length of v.
func L2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a
// zero copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	NormalizeInPlace(out)
	return out
}

// NormalizeInPlace scales v to unit length.
func NormalizeInPlace(v []float32) {
	norm := L2Norm(v)
	if norm == 0 {
		return
	}
	scale := 1 / norm
	for i := range v {
		v[i] = float32(float64(v[i]) * scale)
	}
}

// Centroid returns the arithmetic mean of vs, or nil if vs is empty.
// The dimension is taken from the first vector.
func Centroid(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		for i := 0; i < dim && i < len(v); i++ {
			acc[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	n := float64(len(vs))
	for i := range acc {
		out[i] = float32(acc[i] / n)
	}
	return out
}

// StdDev returns the sample standard deviation (n-1 denominator) of
// samples. With fewer than two samples it returns def. The result is never
// below floor.
func StdDev(samples []float64, def, floor float64) float64 {
	if len(samples) < 2 {
		return math.Max(def, floor)
	}
	var mean float64
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))
	var ss float64
	for _, s := range samples {
		d := s - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(samples)-1))
	return math.Max(std, floor)
}

// MaxSimilarity returns the highest cosine similarity between v and any
// member of set, and the index of that member. It returns (-1, -1) for an
// empty set.
func MaxSimilarity(v []float32, set [][]float32) (float32, int) {
	best, idx := float32(-1), -1
	for i, s := range set {
		if sim := CosineSimilarity(v, s); idx < 0 || sim > best {
			best, idx = sim, i
		}
	}
	return best, idx
}

// MinDistance returns the smallest cosine distance between v and any member
// of set. It returns +Inf for an empty set.
func MinDistance(v []float32, set [][]float32) float64 {
	best := math.Inf(1)
	for _, s := range set {
		if d := float64(CosineDistance(v, s)); d < best {
			best = d
		}
	}
	return best
}
