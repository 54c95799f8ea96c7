// Package ncnn provides Go bindings for the ncnn neural network inference
// framework via CGo static linking.
//
// ncnn is a high-performance inference framework optimized for mobile and
// embedded platforms. This package wraps the ncnn C API, providing Go-native
// types for Net (model), Extractor (inference session), and Mat (tensor).
//
// # Architecture
//
// The package exposes three core types:
//
//   - [Net] — loads and holds a model (.param graph + .bin weights)
//   - [Extractor] — runs inference on a loaded Net
//   - [Mat] — N-dimensional tensor for input/output data
//
// Usage flow:
//
//	opt := ncnn.NewOption().SetFP16(true).SetNumThreads(2)
//	net, _ := ncnn.NewNet("asr.ncnn.param", "asr.ncnn.bin", opt)
//	defer net.Close()
//
//	ex, _ := net.NewExtractor()
//	defer ex.Close()
//
//	in, _ := ncnn.NewMat([]int{150, 560}, features)
//	ex.SetInput("in0", in)
//	output, _ := ex.Extract("out0")
//	data := output.FloatData()
//
// # Linking
//
// ncnn is linked via pkg-config (ncnn.pc ships with the ncnn install).
//
// # Thread Safety
//
// Net is safe for concurrent use — multiple Extractors can run in parallel
// on the same Net. Each Extractor must be used from a single goroutine.
package ncnn

/*
#cgo pkg-config: ncnn

#include <ncnn/c_api.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Version returns the ncnn library version string.
func Version() string {
	return C.GoString(C.ncnn_version())
}

// --------------------------------------------------------------------------
// Net
// --------------------------------------------------------------------------

// Net holds a loaded ncnn model. Create with [NewNet] or [NewNetFromMemory].
// A Net is safe for concurrent use by multiple Extractors.
type Net struct {
	net C.ncnn_net_t
}

// NewNet loads a model from .param and .bin files on disk. Options are
// applied before loading.
func NewNet(paramPath, binPath string, opts ...*Option) (*Net, error) {
	n := &Net{net: C.ncnn_net_create()}
	if n.net == nil {
		return nil, fmt.Errorf("ncnn: net_create failed")
	}
	for _, opt := range opts {
		if opt != nil {
			C.ncnn_net_set_option(n.net, opt.opt)
		}
	}

	cParam := C.CString(paramPath)
	defer C.free(unsafe.Pointer(cParam))
	if ret := C.ncnn_net_load_param(n.net, cParam); ret != 0 {
		C.ncnn_net_destroy(n.net)
		return nil, fmt.Errorf("ncnn: load_param %q: %d", paramPath, ret)
	}

	cBin := C.CString(binPath)
	defer C.free(unsafe.Pointer(cBin))
	if ret := C.ncnn_net_load_model(n.net, cBin); ret != 0 {
		C.ncnn_net_destroy(n.net)
		return nil, fmt.Errorf("ncnn: load_model %q: %d", binPath, ret)
	}

	runtime.SetFinalizer(n, (*Net).Close)
	return n, nil
}

// NewNetFromMemory loads a model from in-memory .param and .bin data.
// paramData is the text content of the .param file.
// binData is the raw bytes of the .bin file.
// opts is an optional Option to configure the net (FP16, threads, etc.).
// The option must be set before loading for it to take effect.
func NewNetFromMemory(paramData, binData []byte, opts ...*Option) (*Net, error) {
	if len(paramData) == 0 {
		return nil, fmt.Errorf("ncnn: empty param data")
	}
	if len(binData) == 0 {
		return nil, fmt.Errorf("ncnn: empty bin data")
	}

	n := &Net{net: C.ncnn_net_create()}
	if n.net == nil {
		return nil, fmt.Errorf("ncnn: net_create failed")
	}

	// Apply option BEFORE loading (ncnn applies options during load).
	for _, opt := range opts {
		if opt != nil {
			C.ncnn_net_set_option(n.net, opt.opt)
		}
	}

	// ncnn_net_load_param_memory expects a null-terminated C string.
	cParam := C.CString(string(paramData))
	defer C.free(unsafe.Pointer(cParam))
	if ret := C.ncnn_net_load_param_memory(n.net, cParam); ret != 0 {
		C.ncnn_net_destroy(n.net)
		return nil, fmt.Errorf("ncnn: load_param_memory: %d", ret)
	}

	// ncnn_net_load_model_memory returns bytes consumed (>0) on success, <0 on error.
	if ret := C.ncnn_net_load_model_memory(n.net, (*C.uchar)(unsafe.Pointer(&binData[0]))); ret < 0 {
		C.ncnn_net_destroy(n.net)
		return nil, fmt.Errorf("ncnn: load_model_memory: %d", ret)
	}

	runtime.SetFinalizer(n, (*Net).Close)
	return n, nil
}

// SetOption applies a configured Option to this Net.
// Must be called before creating Extractors.
func (n *Net) SetOption(opt *Option) {
	C.ncnn_net_set_option(n.net, opt.opt)
}

// Option configures inference behavior for a Net.
type Option struct {
	opt C.ncnn_option_t
}

// NewOption creates a new Option with default settings.
// Returns nil if allocation fails.
func NewOption() *Option {
	opt := C.ncnn_option_create()
	if opt == nil {
		return nil
	}
	o := &Option{opt: opt}
	runtime.SetFinalizer(o, (*Option).Close)
	return o
}

// SetFP16 enables or disables FP16 storage and arithmetic.
// Disable for models with intermediate values >65504 (e.g., Silero VAD).
func (o *Option) SetFP16(enabled bool) *Option {
	v := C.int(0)
	if enabled {
		v = 1
	}
	C.ncnn_option_set_use_fp16_packed(o.opt, v)
	C.ncnn_option_set_use_fp16_storage(o.opt, v)
	C.ncnn_option_set_use_fp16_arithmetic(o.opt, v)
	return o
}

// SetNumThreads sets the number of CPU threads for inference.
func (o *Option) SetNumThreads(n int) *Option {
	C.ncnn_option_set_num_threads(o.opt, C.int(n))
	return o
}

// Close releases the option resources.
func (o *Option) Close() error {
	if o.opt != nil {
		C.ncnn_option_destroy(o.opt)
		o.opt = nil
		runtime.SetFinalizer(o, nil)
	}
	return nil
}

// NewExtractor creates a new inference session for this Net.
// The Extractor must be closed after use.
// Returns an error if the extractor cannot be created.
func (n *Net) NewExtractor() (*Extractor, error) {
	ex := C.ncnn_extractor_create(n.net)
	if ex == nil {
		return nil, fmt.Errorf("ncnn: extractor_create failed")
	}
	e := &Extractor{ex: ex}
	runtime.SetFinalizer(e, (*Extractor).Close)
	return e, nil
}

// Close releases the ncnn network resources.
func (n *Net) Close() error {
	if n.net != nil {
		C.ncnn_net_destroy(n.net)
		n.net = nil
		runtime.SetFinalizer(n, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Extractor
// --------------------------------------------------------------------------

// Extractor runs inference on a loaded Net. Create with [Net.NewExtractor].
// An Extractor must be used from a single goroutine.
type Extractor struct {
	ex C.ncnn_extractor_t
}

// SetInput feeds a Mat as input to the named blob.
func (e *Extractor) SetInput(name string, mat *Mat) error {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	if ret := C.ncnn_extractor_input(e.ex, cName, mat.mat); ret != 0 {
		return fmt.Errorf("ncnn: extractor_input %q: %d", name, ret)
	}
	return nil
}

// Extract runs inference and returns the output Mat for the named blob.
// The caller must close the returned Mat.
func (e *Extractor) Extract(name string) (*Mat, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var m C.ncnn_mat_t
	if ret := C.ncnn_extractor_extract(e.ex, cName, &m); ret != 0 {
		return nil, fmt.Errorf("ncnn: extractor_extract %q: %d", name, ret)
	}

	mat := &Mat{mat: m}
	runtime.SetFinalizer(mat, (*Mat).Close)
	return mat, nil
}

// SetOption applies a configured Option to this extractor.
func (e *Extractor) SetOption(opt *Option) {
	C.ncnn_extractor_set_option(e.ex, opt.opt)
}

// Close releases the extractor resources.
func (e *Extractor) Close() error {
	if e.ex != nil {
		C.ncnn_extractor_destroy(e.ex)
		e.ex = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Mat
// --------------------------------------------------------------------------

// Mat is an N-dimensional tensor of up to three dimensions. Create with
// [NewMat].
type Mat struct {
	mat C.ncnn_mat_t
}

// NewMat allocates a Mat with the given row-major shape (outermost first,
// at most three dimensions) and copies data into it. Channel padding is
// handled, so data is plain contiguous values.
func NewMat(shape []int, data []float32) (*Mat, error) {
	total := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("ncnn: invalid mat shape %v", shape)
		}
		total *= d
	}
	if len(data) < total || total == 0 {
		return nil, fmt.Errorf("ncnn: mat data too short: got %d, need %d (shape %v)", len(data), total, shape)
	}

	var mat C.ncnn_mat_t
	switch len(shape) {
	case 1:
		mat = C.ncnn_mat_create_1d(C.int(shape[0]), nil)
	case 2:
		mat = C.ncnn_mat_create_2d(C.int(shape[1]), C.int(shape[0]), nil)
	case 3:
		mat = C.ncnn_mat_create_3d(C.int(shape[2]), C.int(shape[1]), C.int(shape[0]), nil)
	default:
		return nil, fmt.Errorf("ncnn: mat supports 1 to 3 dimensions, got %v", shape)
	}
	if mat == nil {
		return nil, fmt.Errorf("ncnn: mat_create failed for shape %v", shape)
	}
	m := &Mat{mat: mat}
	runtime.SetFinalizer(m, (*Mat).Close)

	plane := m.W() * m.H()
	for c := range m.C() {
		dst := C.ncnn_mat_get_channel_data(m.mat, C.int(c))
		C.memcpy(dst, unsafe.Pointer(&data[c*plane]), C.size_t(plane*4))
	}
	return m, nil
}

// Dims returns the number of dimensions (1, 2 or 3).
func (m *Mat) Dims() int { return int(C.ncnn_mat_get_dims(m.mat)) }

// W returns the width (innermost dimension) of the Mat.
func (m *Mat) W() int { return int(C.ncnn_mat_get_w(m.mat)) }

// H returns the height of the Mat.
func (m *Mat) H() int { return int(C.ncnn_mat_get_h(m.mat)) }

// C returns the number of channels of the Mat.
func (m *Mat) C() int { return int(C.ncnn_mat_get_c(m.mat)) }

// Shape returns the dimensions outermost first, matching NewMat.
func (m *Mat) Shape() []int {
	switch m.Dims() {
	case 1:
		return []int{m.W()}
	case 2:
		return []int{m.H(), m.W()}
	default:
		return []int{m.C(), m.H(), m.W()}
	}
}

// FloatData copies the Mat data into a new contiguous float32 slice of
// length W * H * C, skipping channel padding.
func (m *Mat) FloatData() []float32 {
	plane := m.W() * m.H()
	channels := m.C()
	if plane <= 0 || channels <= 0 {
		return nil
	}
	out := make([]float32, plane*channels)
	for c := range channels {
		src := C.ncnn_mat_get_channel_data(m.mat, C.int(c))
		if src == nil {
			return nil
		}
		C.memcpy(unsafe.Pointer(&out[c*plane]), src, C.size_t(plane*4))
	}
	return out
}

// Close releases the Mat resources.
func (m *Mat) Close() error {
	if m.mat != nil {
		C.ncnn_mat_destroy(m.mat)
		m.mat = nil
		runtime.SetFinalizer(m, nil)
	}
	return nil
}
