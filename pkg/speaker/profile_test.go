package speaker

import (
	"math/rand/v2"
	"testing"

	"github.com/haivivi/voxid/pkg/vecmath"
)

func randUnit(dim int, rng *rand.Rand) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return vecmath.Normalize(v)
}

// near returns a unit vector whose cosine distance from base is roughly
// scale-controlled: larger scale, larger distance.
func near(base []float32, scale float64, rng *rand.Rand) []float32 {
	v := make([]float32, len(base))
	for i := range v {
		v[i] = base[i] + float32(rng.NormFloat64()*scale)
	}
	return vecmath.Normalize(v)
}

func TestProfileFirstEmbeddingIsCore(t *testing.T) {
	p := NewProfile("alice", ProfileConfig{})
	e := []float32{1, 0, 0}
	if got := p.AddEmbedding(e, false); got != Core {
		t.Fatalf("placement = %v, want core", got)
	}
	if len(p.Core) != 1 || len(p.Boundary) != 0 {
		t.Fatalf("core=%d boundary=%d", len(p.Core), len(p.Boundary))
	}
	for i := range e {
		if p.Centroid[i] != e[i] {
			t.Fatalf("centroid = %v, want %v", p.Centroid, e)
		}
	}
	if p.StdDev != DefaultStdDev {
		t.Errorf("stdDev = %v, want default", p.StdDev)
	}
}

func TestProfileFirstEmbeddingIgnoresForceBoundary(t *testing.T) {
	p := NewProfile("alice", ProfileConfig{})
	if got := p.AddEmbedding([]float32{1, 0}, true); got != Core {
		t.Fatalf("placement = %v, want core", got)
	}
}

func TestProfileDiversityGate(t *testing.T) {
	p := NewProfile("alice", ProfileConfig{})
	e := []float32{1, 0, 0}
	p.AddEmbedding(e, false)

	if got := p.AddEmbedding(e, false); got != Rejected {
		t.Fatalf("duplicate placement = %v, want rejected", got)
	}
	if got := p.AddEmbedding(e, true); got != Rejected {
		t.Fatalf("forced duplicate placement = %v, want rejected", got)
	}
	if p.Len() != 1 {
		t.Fatalf("len = %d, want 1", p.Len())
	}
	// Rejected at the gate: the history is untouched.
	if len(p.Distances) != 0 {
		t.Errorf("distances = %v, want empty", p.Distances)
	}
}

func axis(dim, k int) []float32 {
	v := make([]float32, dim)
	v[k] = 1
	return v
}

func TestProfileClassification(t *testing.T) {
	p := NewProfile("alice", ProfileConfig{})
	p.AddEmbedding(axis(64, 0), false)

	// cos distance ~0.11 from centroid: within the default 0.2 deviation.
	in := axis(64, 0)
	in[1] = 0.5
	in = vecmath.Normalize(in)
	if got := p.AddEmbedding(in, false); got != Core {
		t.Fatalf("close embedding placement = %v, want core (std=%v)", got, p.StdDev)
	}
	if len(p.Distances) != 1 {
		t.Fatalf("distances = %v, want one entry", p.Distances)
	}

	// Build a history of nearby observations. Some are rejected, all are
	// recorded.
	for k := 2; k < 32; k++ {
		v := axis(64, 0)
		v[k] = 0.5
		p.AddEmbedding(vecmath.Normalize(v), false)
	}
	if len(p.Distances) != 31 {
		t.Fatalf("distances = %d, want 31", len(p.Distances))
	}

	// Orthogonal: distance ~1, well beyond two deviations.
	if got := p.AddEmbedding(axis(64, 63), false); got != Rejected {
		t.Fatalf("far embedding placement = %v, want rejected (std=%v)", got, p.StdDev)
	}
	if p.StdDev < MinStdDev {
		t.Errorf("stdDev %v below floor", p.StdDev)
	}

	// The same embedding is accepted when forced.
	if got := p.AddEmbedding(axis(64, 63), true); got != Boundary {
		t.Fatalf("forced placement = %v, want boundary", got)
	}
}

func TestProfileForcedBoundaryRecordsDistance(t *testing.T) {
	p := NewProfile("alice", ProfileConfig{})
	p.AddEmbedding(axis(8, 0), false)
	p.AddEmbedding(vecmath.Normalize([]float32{1, 0.5, 0, 0, 0, 0, 0, 0}), false)
	before := p.StdDev

	if got := p.AddEmbedding(axis(8, 7), true); got != Boundary {
		t.Fatalf("forced placement = %v, want boundary", got)
	}
	if len(p.Distances) != 2 {
		t.Fatalf("distances = %v, want the forced distance recorded", p.Distances)
	}
	if d := p.Distances[1]; d < 0.9 {
		t.Errorf("forced distance = %v, want ~1", d)
	}
	if p.StdDev == before {
		t.Errorf("stdDev not updated by forced embedding: %v", p.StdDev)
	}
}

func TestProfileCapacity(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 0))
	p := NewProfile("bob", ProfileConfig{})
	base := randUnit(64, rng)
	p.AddEmbedding(base, false)

	for range 200 {
		p.AddEmbedding(near(base, 0.08, rng), false)
		p.AddEmbedding(near(base, 0.08, rng), true)
	}
	if len(p.Core) > DefaultMaxCore {
		t.Errorf("core = %d, exceeds %d", len(p.Core), DefaultMaxCore)
	}
	if len(p.Boundary) > DefaultMaxBoundary {
		t.Errorf("boundary = %d, exceeds %d", len(p.Boundary), DefaultMaxBoundary)
	}
	if len(p.Boundary) != DefaultMaxBoundary {
		t.Errorf("boundary = %d, want full", len(p.Boundary))
	}
	if len(p.Distances) > MaxDistanceHistory {
		t.Errorf("distance history = %d, exceeds %d", len(p.Distances), MaxDistanceHistory)
	}

	// Centroid is the mean of core.
	want := vecmath.Centroid(p.Core)
	for i := range want {
		if p.Centroid[i] != want[i] {
			t.Fatalf("centroid not the core mean at %d", i)
		}
	}

	// All stored embeddings respect the diversity minimum.
	all := p.All()
	for i := range all {
		for j := range i {
			if d := vecmath.CosineDistance(all[i], all[j]); float64(d) < DefaultMinDiversity {
				t.Fatalf("embeddings %d and %d only %v apart", i, j, d)
			}
		}
	}
}

func TestProfileCoreFullOverflowsToBoundary(t *testing.T) {
	p := NewProfile("carol", ProfileConfig{MaxCore: 1, MaxBoundary: 2})
	p.AddEmbedding(axis(8, 0), false)

	in := axis(8, 0)
	in[1] = 0.5
	in = vecmath.Normalize(in)
	if got := p.AddEmbedding(in, false); got != Boundary {
		t.Fatalf("placement = %v, want boundary when core is full", got)
	}
}

func TestProfileClone(t *testing.T) {
	p := NewProfile("dan", ProfileConfig{})
	p.AddEmbedding([]float32{1, 0}, false)
	c := p.Clone()
	c.Core[0][0] = 42
	if p.Core[0][0] == 42 {
		t.Fatal("Clone shares embedding storage")
	}
}
