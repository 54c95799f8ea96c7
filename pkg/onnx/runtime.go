package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/haivivi/voxid/pkg/inference"
)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// Threads is the default intra-op thread count per model.
	Threads int

	// Provider is the execution provider to request, best effort.
	Provider string

	Logger *slog.Logger
}

// Runtime loads ONNX models for inference.NewPortable.
type Runtime struct {
	env  *Env
	opts RuntimeOptions
	log  *slog.Logger
}

var _ inference.Runtime = (*Runtime)(nil)

// NewRuntime creates the ONNX Runtime environment.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	env, err := NewEnv("voxid")
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{env: env, opts: opts, log: log}, nil
}

// Load loads <dir>/<name>.onnx. A requested execution provider that is
// unavailable is logged and the model runs on CPU.
func (r *Runtime) Load(spec inference.ModelSpec) (inference.Model, error) {
	data, err := os.ReadFile(spec.ONNXPath())
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	threads := r.opts.Threads
	if spec.Threads > 0 {
		threads = spec.Threads
	}
	sess, err := r.env.NewSession(data, SessionOptions{Threads: threads, Provider: r.opts.Provider})
	if err != nil {
		return nil, fmt.Errorf("onnx: load %s: %w", spec.Name, err)
	}
	if perr := sess.ProviderErr(); perr != nil {
		r.log.Warn("onnx: execution provider unavailable, running on CPU",
			"model", spec.Name, "provider", r.opts.Provider, "error", perr)
	}
	return &model{sess: sess, spec: spec}, nil
}

// Close releases the environment.
func (r *Runtime) Close() error { return r.env.Close() }

type model struct {
	sess *Session
	spec inference.ModelSpec
}

func toTensor(t inference.Tensor) (*Tensor, error) {
	switch t.DType {
	case inference.Int64:
		return NewTensorInt64(t.Shape, t.Ints)
	case inference.Int32:
		return NewTensorInt32(t.Shape, t.AsInt32())
	default:
		return NewTensor(t.Shape, t.Floats)
	}
}

func (m *model) Run(_ context.Context, inputs []inference.Tensor) ([]inference.Tensor, error) {
	declared := m.sess.InputNames()
	names := make([]string, len(inputs))
	values := make([]*Tensor, len(inputs))
	for i, t := range inputs {
		def := ""
		if i < len(declared) {
			def = declared[i]
		}
		names[i] = t.Name
		if names[i] == "" {
			names[i] = m.spec.InputName(i, def)
		}
		v, err := toTensor(t)
		if err != nil {
			return nil, fmt.Errorf("onnx: input %s: %w", names[i], err)
		}
		defer v.Close()
		values[i] = v
	}

	outNames := m.spec.Outputs
	if len(outNames) == 0 {
		outNames = m.sess.OutputNames()
	}
	outputs, err := m.sess.Run(names, values, outNames)
	if err != nil {
		return nil, err
	}

	result := make([]inference.Tensor, len(outputs))
	for i, o := range outputs {
		shape, err := o.Shape()
		if err == nil {
			var data []float32
			if data, err = o.FloatData(); err == nil {
				result[i] = inference.NewFloat(outNames[i], shape, data)
			}
		}
		o.Close()
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (m *model) Close() error { return m.sess.Close() }
