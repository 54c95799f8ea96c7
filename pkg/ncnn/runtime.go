package ncnn

import (
	"context"
	"fmt"

	"github.com/haivivi/voxid/pkg/inference"
)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// Threads is the default CPU thread count per model.
	Threads int
}

// Runtime loads ncnn models for inference.NewNative.
type Runtime struct {
	opts RuntimeOptions
}

var _ inference.Runtime = (*Runtime)(nil)

// NewRuntime returns an ncnn Runtime.
func NewRuntime(opts RuntimeOptions) *Runtime {
	return &Runtime{opts: opts}
}

// Load loads <dir>/<name>.ncnn.param and .bin. FP16 storage and
// arithmetic are on unless spec.NoFP16 is set.
func (r *Runtime) Load(spec inference.ModelSpec) (inference.Model, error) {
	if err := spec.Available(inference.Native); err != nil {
		return nil, err
	}
	opt := NewOption()
	if opt == nil {
		return nil, fmt.Errorf("ncnn: option_create failed")
	}
	defer opt.Close()
	opt.SetFP16(!spec.NoFP16)
	threads := r.opts.Threads
	if spec.Threads > 0 {
		threads = spec.Threads
	}
	if threads > 0 {
		opt.SetNumThreads(threads)
	}

	param, bin := spec.NCNNPaths()
	net, err := NewNet(param, bin, opt)
	if err != nil {
		return nil, err
	}
	return &model{net: net, spec: spec}, nil
}

// Close is a no-op; models own their nets.
func (r *Runtime) Close() error { return nil }

type model struct {
	net  *Net
	spec inference.ModelSpec
}

// matShape drops the batch dimension that pnnx-converted models do not
// carry.
func matShape(shape []int64) []int {
	if len(shape) > 1 && shape[0] == 1 {
		shape = shape[1:]
	}
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}

func (m *model) Run(_ context.Context, inputs []inference.Tensor) ([]inference.Tensor, error) {
	ex, err := m.net.NewExtractor()
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	for i, t := range inputs {
		name := t.Name
		if name == "" {
			name = m.spec.InputName(i, fmt.Sprintf("in%d", i))
		}
		mat, err := NewMat(matShape(t.Shape), t.AsFloat())
		if err != nil {
			return nil, fmt.Errorf("ncnn: input %s: %w", name, err)
		}
		defer mat.Close()
		if err := ex.SetInput(name, mat); err != nil {
			return nil, err
		}
	}

	n := max(len(m.spec.Outputs), 1)
	out := make([]inference.Tensor, n)
	for i := range n {
		name := m.spec.OutputName(i, fmt.Sprintf("out%d", i))
		mat, err := ex.Extract(name)
		if err != nil {
			return nil, err
		}
		shape := mat.Shape()
		dims := make([]int64, len(shape))
		for j, d := range shape {
			dims[j] = int64(d)
		}
		out[i] = inference.NewFloat(name, dims, mat.FloatData())
		mat.Close()
	}
	return out, nil
}

func (m *model) Close() error { return m.net.Close() }
