package speaker

import (
	"fmt"
	"slices"

	"github.com/haivivi/voxid/pkg/vecmath"
)

// Profile limits and statistics defaults.
const (
	DefaultMaxCore      = 5
	DefaultMaxBoundary  = 10
	DefaultMinDiversity = 0.1
	DefaultStdDev       = 0.2
	MinStdDev           = 0.05
	MaxDistanceHistory  = 100
)

// Placement reports where AddEmbedding stored an embedding.
type Placement int

const (
	Rejected Placement = iota
	Core
	Boundary
)

func (p Placement) String() string {
	switch p {
	case Core:
		return "core"
	case Boundary:
		return "boundary"
	default:
		return "rejected"
	}
}

// ProfileConfig holds the capacity and diversity limits of a Profile.
// Zero fields take the package defaults.
type ProfileConfig struct {
	MaxCore      int
	MaxBoundary  int
	MinDiversity float64
}

func (c ProfileConfig) withDefaults() ProfileConfig {
	if c.MaxCore <= 0 {
		c.MaxCore = DefaultMaxCore
	}
	if c.MaxBoundary <= 0 {
		c.MaxBoundary = DefaultMaxBoundary
	}
	if c.MinDiversity <= 0 {
		c.MinDiversity = DefaultMinDiversity
	}
	return c
}

// Profile is the two-layer voice model of one named speaker.
//
// Core holds the most representative embeddings and defines Centroid.
// Boundary holds valid but atypical embeddings that extend recognition to
// other speaking conditions without shifting the centroid.
type Profile struct {
	Name      string
	Core      [][]float32
	Boundary  [][]float32
	Centroid  []float32
	StdDev    float64
	Distances []float64

	cfg ProfileConfig
}

// NewProfile returns an empty profile.
func NewProfile(name string, cfg ProfileConfig) *Profile {
	return &Profile{
		Name:   name,
		StdDev: DefaultStdDev,
		cfg:    cfg.withDefaults(),
	}
}

// Len returns the total number of stored embeddings.
func (p *Profile) Len() int {
	return len(p.Core) + len(p.Boundary)
}

// All returns core followed by boundary embeddings.
func (p *Profile) All() [][]float32 {
	out := make([][]float32, 0, p.Len())
	out = append(out, p.Core...)
	return append(out, p.Boundary...)
}

// AddEmbedding classifies emb into the core or boundary layer.
//
// Embeddings closer than MinDiversity to any stored embedding are
// rejected. The first accepted embedding always becomes core. After that,
// emb's distance from the centroid is recorded and compared against the
// running standard deviation: within one deviation goes to core (boundary
// once core is full), within two goes to boundary, anything further is
// rejected. Unless core is empty, forceBoundary records the distance but
// skips the statistical test and stores emb in the boundary layer when
// there is room.
func (p *Profile) AddEmbedding(emb []float32, forceBoundary bool) Placement {
	if len(emb) == 0 {
		return Rejected
	}
	if p.Len() > 0 && vecmath.MinDistance(emb, p.All()) < p.cfg.MinDiversity {
		return Rejected
	}

	emb = slices.Clone(emb)

	if len(p.Core) == 0 {
		p.Core = append(p.Core, emb)
		p.Centroid = slices.Clone(emb)
		return Core
	}

	dist := float64(vecmath.CosineDistance(emb, p.Centroid))
	p.Distances = append(p.Distances, dist)
	if len(p.Distances) > MaxDistanceHistory {
		p.Distances = slices.Clone(p.Distances[len(p.Distances)-MaxDistanceHistory:])
	}
	p.StdDev = vecmath.StdDev(p.Distances, DefaultStdDev, MinStdDev)

	if forceBoundary {
		if len(p.Boundary) >= p.cfg.MaxBoundary {
			return Rejected
		}
		p.Boundary = append(p.Boundary, emb)
		return Boundary
	}

	switch {
	case dist < p.StdDev:
		if len(p.Core) < p.cfg.MaxCore {
			p.Core = append(p.Core, emb)
			p.Centroid = vecmath.Centroid(p.Core)
			return Core
		}
		fallthrough
	case dist < 2*p.StdDev:
		if len(p.Boundary) < p.cfg.MaxBoundary {
			p.Boundary = append(p.Boundary, emb)
			return Boundary
		}
	}
	return Rejected
}

// WithinDeviations reports whether emb lies within k standard deviations of
// the centroid.
func (p *Profile) WithinDeviations(emb []float32, k float64) bool {
	if p.Centroid == nil {
		return false
	}
	return float64(vecmath.CosineDistance(emb, p.Centroid)) < k*p.StdDev
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	c := &Profile{
		Name:      p.Name,
		Centroid:  slices.Clone(p.Centroid),
		StdDev:    p.StdDev,
		Distances: slices.Clone(p.Distances),
		cfg:       p.cfg,
	}
	for _, e := range p.Core {
		c.Core = append(c.Core, slices.Clone(e))
	}
	for _, e := range p.Boundary {
		c.Boundary = append(c.Boundary, slices.Clone(e))
	}
	return c
}

func (p *Profile) String() string {
	return fmt.Sprintf("%s (core=%d boundary=%d std=%.3f)", p.Name, len(p.Core), len(p.Boundary), p.StdDev)
}
