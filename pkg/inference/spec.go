package inference

import (
	"fmt"
	"os"
	"path/filepath"
)

// ModelSpec describes a model artifact. The portable backend loads
// <Dir>/<Name>.onnx; the native backend loads <Dir>/<Name>.ncnn.param and
// <Dir>/<Name>.ncnn.bin.
type ModelSpec struct {
	Name string `yaml:"name"`
	Dir  string `yaml:"dir"`

	// Inputs and Outputs name the model's blobs. The portable backend
	// defaults to the names declared in the model; the native backend
	// defaults to in0.. and out0.. as written by pnnx.
	Inputs  []string `yaml:"inputs,omitempty"`
	Outputs []string `yaml:"outputs,omitempty"`

	// Shapes lists, per input name, the shapes the native model was built
	// for. Inputs without an entry accept any shape.
	Shapes map[string][][]int64 `yaml:"shapes,omitempty"`

	// NoFP16 disables FP16 on the native backend, for models whose
	// activations overflow half precision.
	NoFP16 bool `yaml:"no_fp16,omitempty"`

	// Threads overrides the backend's thread count for this model.
	Threads int `yaml:"threads,omitempty"`
}

// ONNXPath returns the portable artifact path.
func (s ModelSpec) ONNXPath() string {
	return filepath.Join(s.Dir, s.Name+".onnx")
}

// NCNNPaths returns the native artifact paths.
func (s ModelSpec) NCNNPaths() (param, bin string) {
	base := filepath.Join(s.Dir, s.Name+".ncnn")
	return base + ".param", base + ".bin"
}

// Available reports whether the artifacts for kind exist.
func (s ModelSpec) Available(kind Kind) error {
	var paths []string
	switch kind {
	case Native:
		p, b := s.NCNNPaths()
		paths = []string{p, b}
	default:
		paths = []string{s.ONNXPath()}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("inference: model %s (%s): %w", s.Name, kind, err)
		}
	}
	return nil
}

// InputName returns the name of input i.
func (s ModelSpec) InputName(i int, def string) string {
	if i < len(s.Inputs) {
		return s.Inputs[i]
	}
	return def
}

// OutputName returns the name of output i.
func (s ModelSpec) OutputName(i int, def string) string {
	if i < len(s.Outputs) {
		return s.Outputs[i]
	}
	return def
}

// checkShapes returns ErrShapeMismatch if an input's shape is not among
// the shapes declared for it.
func (s ModelSpec) checkShapes(inputs []Tensor) error {
	if len(s.Shapes) == 0 {
		return nil
	}
	for i, t := range inputs {
		name := t.Name
		if name == "" {
			name = s.InputName(i, fmt.Sprintf("in%d", i))
		}
		allowed, ok := s.Shapes[name]
		if !ok {
			continue
		}
		match := false
		for _, shape := range allowed {
			if sameShape(shape, t.Shape) {
				match = true
				break
			}
		}
		if !match {
			return fmt.Errorf("%w: %s input %s shape %v, built for %v", ErrShapeMismatch, s.Name, name, t.Shape, allowed)
		}
	}
	return nil
}
