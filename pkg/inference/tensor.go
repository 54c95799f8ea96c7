package inference

import "fmt"

// DType is a tensor element type.
type DType uint8

const (
	Float32 DType = iota
	Int64
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	case Int32:
		return "int32"
	}
	return fmt.Sprintf("dtype(%d)", d)
}

// Tensor is a named, shaped value. Float32 data lives in Floats; both
// integer types live in Ints.
type Tensor struct {
	Name   string
	Shape  []int64
	DType  DType
	Floats []float32
	Ints   []int64
}

// NewFloat returns a float32 tensor.
func NewFloat(name string, shape []int64, data []float32) Tensor {
	return Tensor{Name: name, Shape: shape, DType: Float32, Floats: data}
}

// NewInt64 returns an int64 tensor.
func NewInt64(name string, shape []int64, data []int64) Tensor {
	return Tensor{Name: name, Shape: shape, DType: Int64, Ints: data}
}

// NewInt32 returns an int32 tensor; values are stored widened.
func NewInt32(name string, shape []int64, data []int64) Tensor {
	return Tensor{Name: name, Shape: shape, DType: Int32, Ints: data}
}

// Elements returns the product of the shape.
func (t Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Len returns the number of stored values.
func (t Tensor) Len() int {
	if t.DType == Float32 {
		return len(t.Floats)
	}
	return len(t.Ints)
}

// Validate checks that the data matches the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("inference: tensor %q has no shape", t.Name)
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("inference: tensor %q has shape %v", t.Name, t.Shape)
		}
	}
	if t.Len() != t.Elements() {
		return fmt.Errorf("inference: tensor %q has %d values for shape %v", t.Name, t.Len(), t.Shape)
	}
	return nil
}

// AsFloat returns the data as float32, converting integers.
func (t Tensor) AsFloat() []float32 {
	if t.DType == Float32 {
		return t.Floats
	}
	out := make([]float32, len(t.Ints))
	for i, v := range t.Ints {
		out[i] = float32(v)
	}
	return out
}

// AsInt32 returns integer data narrowed to int32.
func (t Tensor) AsInt32() []int32 {
	out := make([]int32, len(t.Ints))
	for i, v := range t.Ints {
		out[i] = int32(v)
	}
	return out
}

func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
