package vad

import (
	"context"
	"fmt"

	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/inference"
)

// Silero state layout: [2, 1, 64] for both h and c.
const (
	sileroStateLen = 2 * 64
)

var sileroStateShape = []int64{2, 1, 64}

// SileroSpec returns the model spec for the Silero VAD model named
// "vad" in dir. FP16 is off: the model's activations overflow it.
func SileroSpec(dir string, kind inference.Kind) inference.ModelSpec {
	spec := inference.ModelSpec{
		Name:   "vad",
		Dir:    dir,
		NoFP16: true,
		Shapes: map[string][][]int64{},
	}
	names := []string{"input", "sr", "h", "c"}
	spec.Outputs = []string{"output", "hn", "cn"}
	if kind == inference.Native {
		names = []string{"in0", "in1", "in2", "in3"}
		spec.Outputs = []string{"out0", "out1", "out2"}
	}
	spec.Inputs = names
	spec.Shapes[names[0]] = [][]int64{{1, pcm.FrameSize}}
	spec.Shapes[names[2]] = [][]int64{sileroStateShape}
	spec.Shapes[names[3]] = [][]int64{sileroStateShape}
	return spec
}

// Silero scores frames with the Silero VAD model.
type Silero struct {
	model inference.Model
}

var _ Scorer = (*Silero)(nil)

// NewSilero returns a Scorer running m, which must have been loaded from
// a SileroSpec.
func NewSilero(m inference.Model) *Silero {
	return &Silero{model: m}
}

// Score implements Scorer.
func (s *Silero) Score(ctx context.Context, frame []float32, st State) (float32, State, error) {
	h, c := st.H, st.C
	if len(h) != sileroStateLen {
		h = make([]float32, sileroStateLen)
	}
	if len(c) != sileroStateLen {
		c = make([]float32, sileroStateLen)
	}

	out, err := s.model.Run(ctx, []inference.Tensor{
		inference.NewFloat("", []int64{1, int64(len(frame))}, frame),
		inference.NewInt64("", []int64{1}, []int64{pcm.SampleRate}),
		inference.NewFloat("", sileroStateShape, h),
		inference.NewFloat("", sileroStateShape, c),
	})
	if err != nil {
		return 0, st, fmt.Errorf("vad: silero: %w", err)
	}
	if len(out) < 3 || len(out[0].Floats) == 0 ||
		len(out[1].Floats) != sileroStateLen || len(out[2].Floats) != sileroStateLen {
		return 0, st, fmt.Errorf("vad: silero: unexpected outputs")
	}

	prob := min(max(out[0].Floats[0], 0), 1)
	next := State{
		H: append([]float32(nil), out[1].Floats...),
		C: append([]float32(nil), out[2].Floats...),
	}
	return prob, next, nil
}
