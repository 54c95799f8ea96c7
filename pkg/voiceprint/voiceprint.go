// Package voiceprint computes speaker embeddings.
//
// An Embedder runs a speaker verification model (3D-Speaker ERes2Net)
// over the filterbank of one segment and returns an L2-normalised
// vector. Vectors of the same speaker are close in cosine distance;
// package speaker decides who they belong to.
//
// # Model
//
// The model takes [1, T, 80] CMVN-normalised log mel frames and returns
// a [1, 512] embedding. The native build is fixed to the embedding
// buckets (see features.DefaultEmbeddingBuckets) and runs without FP16.
package voiceprint

import (
	"context"
	"errors"
	"fmt"

	"github.com/haivivi/voxid/pkg/features"
	"github.com/haivivi/voxid/pkg/inference"
	"github.com/haivivi/voxid/pkg/vecmath"
)

// DefaultDim is the ERes2Net base embedding size.
const DefaultDim = 512

// ErrNoSignal is returned for a tensor without valid frames.
var ErrNoSignal = errors.New("voiceprint: no valid frames")

// Spec returns the model spec for the embedder named "speaker" in dir.
func Spec(dir string, kind inference.Kind, buckets []int, numMels int) inference.ModelSpec {
	spec := inference.ModelSpec{
		Name:   "speaker",
		Dir:    dir,
		NoFP16: true,
	}
	if kind == inference.Native {
		spec.Inputs = []string{"in0"}
		spec.Outputs = []string{"out0"}
		shapes := make([][]int64, 0, len(buckets))
		for _, b := range buckets {
			shapes = append(shapes, []int64{1, int64(b), int64(numMels)})
		}
		spec.Shapes = map[string][][]int64{"in0": shapes}
	}
	return spec
}

// Embedder extracts speaker embeddings. It is safe for concurrent use if
// the model is.
type Embedder struct {
	model inference.Model
	dim   int
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithDim overrides the expected embedding dimension.
func WithDim(dim int) Option {
	return func(e *Embedder) {
		if dim > 0 {
			e.dim = dim
		}
	}
}

// NewEmbedder returns an Embedder running m.
func NewEmbedder(m inference.Model, opts ...Option) *Embedder {
	e := &Embedder{model: m, dim: DefaultDim}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dim returns the embedding dimension.
func (e *Embedder) Dim() int { return e.dim }

// Embed returns the normalised embedding of t.
func (e *Embedder) Embed(ctx context.Context, t features.Tensor) ([]float32, error) {
	if t.Valid == 0 {
		return nil, ErrNoSignal
	}
	out, err := e.model.Run(ctx, []inference.Tensor{
		inference.NewFloat("", t.Shape(), t.Data),
	})
	if err != nil {
		return nil, fmt.Errorf("voiceprint: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("voiceprint: model returned no outputs")
	}
	data := out[0].AsFloat()
	if len(data) != e.dim {
		return nil, fmt.Errorf("voiceprint: embedding has %d values, want %d", len(data), e.dim)
	}
	emb := make([]float32, e.dim)
	copy(emb, data)
	if vecmath.L2Norm(emb) == 0 {
		return nil, fmt.Errorf("voiceprint: zero embedding")
	}
	vecmath.NormalizeInPlace(emb)
	return emb, nil
}
