// Package inference runs neural network models through one of two
// backends chosen once per session.
//
// The native backend (ncnn) is the fast path: FP16 enabled, fixed input
// shapes, several times quicker to load and run. The portable backend
// (ONNX Runtime) accepts any shape and runs everywhere ONNX Runtime does.
// Backend is sealed: NewNative and NewPortable are the only
// implementations. Each wraps a Runtime supplied by a binding package
// (pkg/ncnn, pkg/onnx), which keeps this package free of CGo.
//
// Session adds the one cross-backend behaviour: a model whose input
// shape the native backend rejects is reloaded on the portable backend
// for the rest of the session, with an error logged.
package inference

import (
	"context"
	"errors"
	"fmt"
)

// Kind names a backend.
type Kind string

const (
	Native   Kind = "native"
	Portable Kind = "portable"
)

// ParseKind parses a backend name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Native, Portable:
		return Kind(s), nil
	case "":
		return Native, nil
	}
	return "", fmt.Errorf("inference: unknown backend %q (want native or portable)", s)
}

var (
	// ErrShapeMismatch is returned by the native backend for an input
	// shape the model was not built for.
	ErrShapeMismatch = errors.New("inference: input shape not supported by model")

	// ErrTimeout is returned when a run exceeds its context deadline.
	ErrTimeout = errors.New("inference: run timed out")

	// ErrClosed is returned by Run on a closed model.
	ErrClosed = errors.New("inference: model closed")

	// ErrBusy is returned by Close when a run is still inside the runtime
	// after the close wait. The release happens when that run returns.
	ErrBusy = errors.New("inference: close waiting on running inference")
)

// Model is a loaded model.
type Model interface {
	// Run executes the model. Inputs are matched to model inputs by
	// Tensor.Name, or by position when names are empty. It returns one
	// tensor per output. A run that outlives ctx's deadline returns
	// ErrTimeout without waiting for the underlying call.
	Run(ctx context.Context, inputs []Tensor) ([]Tensor, error)

	// Close unloads the model. Runs still inside the runtime hold it
	// open until they return.
	Close() error
}

// Runtime is a low-level inference engine provided by a binding package.
// Runtime models need not honour contexts; Backend adds that.
type Runtime interface {
	Load(spec ModelSpec) (Model, error)
	Close() error
}

// Backend loads models on one of the two inference engines.
type Backend interface {
	Kind() Kind
	Load(spec ModelSpec) (Model, error)
	Close() error

	sealed()
}
