package resampler

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Quality selects a converter.
type Quality string

const (
	Linear Quality = "linear"
	High   Quality = "high"
)

// Resampler converts a mono stream chunk by chunk. Implementations keep
// state between calls and are not safe for concurrent use.
type Resampler interface {
	// Process converts the next chunk of input and returns whatever output
	// is ready.
	Process(in []float32) ([]float32, error)
}

// New returns a converter from srcRate to dstRate. Equal rates yield a
// pass-through converter.
func New(srcRate, dstRate int, q Quality) (Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate {
		return passthrough{}, nil
	}
	switch q {
	case "", Linear:
		return NewLinear(srcRate, dstRate), nil
	case High:
		return newHigh(srcRate, dstRate)
	default:
		return nil, fmt.Errorf("resampler: unknown quality %q", q)
	}
}

type passthrough struct{}

func (passthrough) Process(in []float32) ([]float32, error) {
	out := make([]float32, len(in))
	copy(out, in)
	return out, nil
}

// high wraps the polyphase converter of go-audio-resampling.
type high struct {
	rs  resampling.Resampler
	buf []float64
}

func newHigh(srcRate, dstRate int) (*high, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	return &high{rs: rs}, nil
}

func (h *high) Process(in []float32) ([]float32, error) {
	if cap(h.buf) < len(in) {
		h.buf = make([]float64, len(in))
	}
	buf := h.buf[:len(in)]
	for i, s := range in {
		buf[i] = float64(s)
	}
	out, err := h.rs.Process(buf)
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}
