// Package features turns speech segments into fixed-shape model inputs.
//
// The filterbank is computed once per segment (Compute); the same Features
// value then feeds both the recognizer (ASRTensors) and the speaker
// embedder (EmbeddingTensor). Output tensors always have a frame count
// drawn from a small set of buckets so that fixed-shape backends see only
// shapes they were built for.
package features

import (
	"fmt"
	"slices"
	"time"

	"github.com/haivivi/voxid/pkg/audio/fbank"
	"github.com/haivivi/voxid/pkg/audio/pcm"
)

// Default bucket sets.
var (
	// DefaultASRBuckets are LFR frame counts (about 9, 15 and 30 seconds).
	DefaultASRBuckets = []int{150, 250, 500}

	// DefaultEmbeddingBuckets are filterbank frame counts (2, 3 and 5
	// seconds).
	DefaultEmbeddingBuckets = []int{200, 300, 500}
)

// DefaultOverlap is the overlap between consecutive ASR chunks in
// filterbank frames (about one second).
const DefaultOverlap = 100

// Config configures an Extractor.
type Config struct {
	Fbank fbank.Config `yaml:"fbank"`

	LFRM int `yaml:"lfr_m,omitempty"`
	LFRN int `yaml:"lfr_n,omitempty"`

	ASRBuckets       []int `yaml:"asr_buckets,omitempty"`
	EmbeddingBuckets []int `yaml:"embedding_buckets,omitempty"`

	// Overlap between ASR chunks in filterbank frames.
	Overlap int `yaml:"overlap,omitempty"`

	// MVN, when set, normalises LFR frames before bucketing.
	MVN *MVN `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.Fbank == (fbank.Config{}) {
		c.Fbank = fbank.DefaultConfig()
	}
	if c.LFRM <= 0 {
		c.LFRM = fbank.DefaultLFRM
	}
	if c.LFRN <= 0 {
		c.LFRN = fbank.DefaultLFRN
	}
	if len(c.ASRBuckets) == 0 {
		c.ASRBuckets = DefaultASRBuckets
	}
	if len(c.EmbeddingBuckets) == 0 {
		c.EmbeddingBuckets = DefaultEmbeddingBuckets
	}
	c.ASRBuckets = slices.Sorted(slices.Values(c.ASRBuckets))
	c.EmbeddingBuckets = slices.Sorted(slices.Values(c.EmbeddingBuckets))
	if c.Overlap <= 0 {
		c.Overlap = DefaultOverlap
	}
	return c
}

// Tensor is a fixed-shape [Frames][Dim] model input, row-major.
type Tensor struct {
	Frames int
	Dim    int

	// Valid counts the leading frames that carry signal; the rest are
	// zero padding.
	Valid int

	// Offset is the index of the first filterbank frame this tensor was
	// built from, within its segment.
	Offset int

	Data []float32
}

// Shape returns the tensor shape with a leading batch dimension.
func (t Tensor) Shape() []int64 {
	return []int64{1, int64(t.Frames), int64(t.Dim)}
}

// Row returns frame i.
func (t Tensor) Row(i int) []float32 {
	return t.Data[i*t.Dim : (i+1)*t.Dim]
}

// Features is the filterbank of one segment.
type Features struct {
	// Frames is [T][NumMels] log mel energies.
	Frames [][]float32

	// Samples is the segment length in 16 kHz samples.
	Samples int
}

// Duration returns the segment length.
func (f *Features) Duration() time.Duration {
	return pcm.Mono16K.Duration(f.Samples)
}

// Extractor computes features. It is safe for concurrent use.
type Extractor struct {
	cfg Config
	fb  *fbank.Extractor
}

// New returns an Extractor.
func New(cfg Config) (*Extractor, error) {
	cfg = cfg.withDefaults()
	if cfg.ASRBuckets[0] <= 0 || cfg.EmbeddingBuckets[0] <= 0 {
		return nil, fmt.Errorf("features: buckets must be positive")
	}
	fb := fbank.New(cfg.Fbank)
	if cfg.MVN != nil && len(cfg.MVN.Shift) != cfg.LFRM*fb.Config().NumMels {
		return nil, fmt.Errorf("features: mvn dimension %d, want %d",
			len(cfg.MVN.Shift), cfg.LFRM*fb.Config().NumMels)
	}
	if span := chunkFrames(cfg.ASRBuckets[len(cfg.ASRBuckets)-1], cfg.LFRM, cfg.LFRN); cfg.Overlap >= span {
		return nil, fmt.Errorf("features: overlap %d must be shorter than chunk %d", cfg.Overlap, span)
	}
	return &Extractor{cfg: cfg, fb: fb}, nil
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.cfg }

// ASRDim returns the feature dimension of ASR tensors.
func (e *Extractor) ASRDim() int { return e.cfg.LFRM * e.fb.Config().NumMels }

// EmbeddingDim returns the feature dimension of embedding tensors.
func (e *Extractor) EmbeddingDim() int { return e.fb.Config().NumMels }

// Compute returns the filterbank of samples. Segments shorter than one
// analysis window yield Features with no frames.
func (e *Extractor) Compute(samples []float32) *Features {
	return &Features{Frames: e.fb.Extract(samples), Samples: len(samples)}
}

// chunkFrames is the number of filterbank frames that yields exactly
// bucket LFR frames.
func chunkFrames(bucket, m, n int) int { return (bucket-1)*n + m }

// ASRTensors returns the recognizer inputs for f. Segments that fit the
// largest bucket give one tensor padded to the smallest bucket that holds
// them; longer segments are split into overlapping chunks of the largest
// bucket.
func (e *Extractor) ASRTensors(f *Features) []Tensor {
	if len(f.Frames) == 0 {
		return nil
	}
	m, n := e.cfg.LFRM, e.cfg.LFRN
	largest := e.cfg.ASRBuckets[len(e.cfg.ASRBuckets)-1]
	span := chunkFrames(largest, m, n)
	step := span - e.cfg.Overlap

	var out []Tensor
	for start := 0; ; start += step {
		end := min(start+span, len(f.Frames))
		lfr := fbank.LFR(f.Frames[start:end], m, n)
		if e.cfg.MVN != nil {
			e.cfg.MVN.Apply(lfr)
		}
		out = append(out, pad(lfr, bucketFor(e.cfg.ASRBuckets, len(lfr)), e.ASRDim(), start))
		if end == len(f.Frames) {
			return out
		}
	}
}

// EmbeddingTensor returns the embedder input for f: the CMVN-normalised
// filterbank padded to one embedding bucket. Segments longer than the
// largest bucket use their first bucket-sized window.
func (e *Extractor) EmbeddingTensor(f *Features) Tensor {
	frames := f.Frames
	bucket := bucketFor(e.cfg.EmbeddingBuckets, len(frames))
	if len(frames) > bucket {
		frames = frames[:bucket]
	}
	norm := make([][]float32, len(frames))
	for i, fr := range frames {
		norm[i] = slices.Clone(fr)
	}
	fbank.CMVN(norm)
	return pad(norm, bucket, e.EmbeddingDim(), 0)
}

// bucketFor returns the smallest bucket holding n frames, or the largest.
func bucketFor(buckets []int, n int) int {
	for _, b := range buckets {
		if n <= b {
			return b
		}
	}
	return buckets[len(buckets)-1]
}

func pad(frames [][]float32, bucket, dim, offset int) Tensor {
	t := Tensor{
		Frames: bucket,
		Dim:    dim,
		Valid:  min(len(frames), bucket),
		Offset: offset,
		Data:   make([]float32, bucket*dim),
	}
	for i := range t.Valid {
		copy(t.Data[i*dim:(i+1)*dim], frames[i])
	}
	return t
}
