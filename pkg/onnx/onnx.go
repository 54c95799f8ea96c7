// Package onnx provides Go bindings for the ONNX Runtime C API.
//
// ONNX Runtime is a cross-platform inference engine for ONNX models.
// This package wraps the C API, providing Go-native types for
// Environment, Session, and Tensor.
//
// Usage flow:
//
//	env, _ := onnx.NewEnv("voxid")
//	defer env.Close()
//
//	session, _ := env.NewSession(modelData, onnx.SessionOptions{Threads: 2})
//	defer session.Close()
//
//	input, _ := onnx.NewTensor([]int64{1, 150, 560}, data)
//	defer input.Close()
//
//	outputs, _ := session.Run(session.InputNames(), []*onnx.Tensor{input}, session.OutputNames())
//	result, _ := outputs[0].FloatData()
//
// ONNX Runtime is dynamically linked (.dylib/.so) via CGo.
//
// Env is safe for concurrent use. Session.Run is thread-safe
// (ONNX Runtime uses internal locking).
package onnx

/*
#cgo LDFLAGS: -lonnxruntime

#include <onnxruntime_c_api.h>
#include <stdlib.h>
#include <string.h>

static const OrtApi* ort_api() {
    return OrtGetApiBase()->GetApi(ORT_API_VERSION);
}

static OrtStatus* ort_create_env(const OrtApi* api, const char* name, OrtEnv** out) {
    return api->CreateEnv(ORT_LOGGING_LEVEL_WARNING, name, out);
}

static OrtStatus* ort_create_session_options(const OrtApi* api, OrtSessionOptions** out) {
    return api->CreateSessionOptions(out);
}

static OrtStatus* ort_set_threads(const OrtApi* api, OrtSessionOptions* opts, int intra, int inter) {
    OrtStatus* status = api->SetIntraOpNumThreads(opts, intra);
    if (status) return status;
    return api->SetInterOpNumThreads(opts, inter);
}

static OrtStatus* ort_set_graph_opt(const OrtApi* api, OrtSessionOptions* opts) {
    return api->SetSessionGraphOptimizationLevel(opts, ORT_ENABLE_ALL);
}

// Appends an execution provider by name ("CoreML", "XNNPACK", "QNN", ...).
static OrtStatus* ort_append_provider(const OrtApi* api, OrtSessionOptions* opts, const char* name) {
    return api->SessionOptionsAppendExecutionProvider(opts, name, NULL, NULL, 0);
}

static OrtStatus* ort_create_session_from_memory(const OrtApi* api, OrtEnv* env,
    const void* model_data, size_t model_data_len, OrtSessionOptions* opts, OrtSession** out) {
    return api->CreateSessionFromArray(env, model_data, model_data_len, opts, out);
}

static OrtStatus* ort_create_tensor(const OrtApi* api, OrtMemoryInfo* info,
    void* data, size_t data_bytes, int64_t* shape, size_t shape_len,
    ONNXTensorElementDataType type, OrtValue** out) {
    return api->CreateTensorWithDataAsOrtValue(info, data, data_bytes,
        shape, shape_len, type, out);
}

static OrtStatus* ort_create_cpu_memory_info(const OrtApi* api, OrtMemoryInfo** out) {
    return api->CreateCpuMemoryInfo(OrtArenaAllocator, OrtMemTypeDefault, out);
}

static OrtStatus* ort_run(const OrtApi* api, OrtSession* session,
    const char** input_names, const OrtValue* const* inputs, size_t num_inputs,
    const char** output_names, size_t num_outputs, OrtValue** outputs) {
    return api->Run(session, NULL, input_names, inputs, num_inputs,
        output_names, num_outputs, outputs);
}

static OrtStatus* ort_get_tensor_data(const OrtApi* api, OrtValue* value, void** out) {
    return api->GetTensorMutableData(value, out);
}

static OrtStatus* ort_get_tensor_type(const OrtApi* api, OrtValue* value,
    ONNXTensorElementDataType* out) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetTensorElementType(info, out);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_get_tensor_shape(const OrtApi* api, OrtValue* value,
    int64_t* shape, size_t shape_len) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensions(info, shape, shape_len);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_get_tensor_ndim(const OrtApi* api, OrtValue* value, size_t* ndim) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensionsCount(info, ndim);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

// Copies the i-th input or output name into a malloc'd C string.
static OrtStatus* ort_io_name(const OrtApi* api, OrtSession* s, int output, size_t i, char** out) {
    OrtAllocator* alloc;
    OrtStatus* status = api->GetAllocatorWithDefaultOptions(&alloc);
    if (status) return status;
    char* name;
    status = output ? api->SessionGetOutputName(s, i, alloc, &name)
                    : api->SessionGetInputName(s, i, alloc, &name);
    if (status) return status;
    *out = strdup(name);
    return api->AllocatorFree(alloc, name);
}

static OrtStatus* ort_io_count(const OrtApi* api, OrtSession* s, int output, size_t* out) {
    return output ? api->SessionGetOutputCount(s, out) : api->SessionGetInputCount(s, out);
}

static const char* ort_error_message(const OrtApi* api, OrtStatus* status) {
    return api->GetErrorMessage(status);
}

static void ort_release_status(const OrtApi* api, OrtStatus* status) {
    api->ReleaseStatus(status);
}

static void ort_release_env(const OrtApi* api, OrtEnv* env) { api->ReleaseEnv(env); }
static void ort_release_session(const OrtApi* api, OrtSession* s) { api->ReleaseSession(s); }
static void ort_release_session_options(const OrtApi* api, OrtSessionOptions* o) { api->ReleaseSessionOptions(o); }
static void ort_release_memory_info(const OrtApi* api, OrtMemoryInfo* i) { api->ReleaseMemoryInfo(i); }
static void ort_release_value(const OrtApi* api, OrtValue* v) { api->ReleaseValue(v); }
*/
import "C"

import (
	"fmt"
	"runtime"
	"unsafe"
)

// api returns the global ORT API pointer.
func api() *C.OrtApi {
	return C.ort_api()
}

// checkStatus converts an OrtStatus to a Go error.
func checkStatus(status *C.OrtStatus) error {
	if status == nil {
		return nil
	}
	msg := C.GoString(C.ort_error_message(api(), status))
	C.ort_release_status(api(), status)
	return fmt.Errorf("onnx: %s", msg)
}

// --------------------------------------------------------------------------
// Env
// --------------------------------------------------------------------------

// Env is the ONNX Runtime environment. Create one per process.
type Env struct {
	env *C.OrtEnv
}

// NewEnv creates a new ONNX Runtime environment.
func NewEnv(name string) (*Env, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var env *C.OrtEnv
	if err := checkStatus(C.ort_create_env(api(), cName, &env)); err != nil {
		return nil, err
	}

	e := &Env{env: env}
	runtime.SetFinalizer(e, (*Env).Close)
	return e, nil
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Threads is the intra-op thread count; zero lets the runtime decide.
	Threads int

	// Provider names an execution provider to try ("CoreML", "XNNPACK",
	// "QNN"). Empty means CPU only.
	Provider string
}

// NewSession creates a session from in-memory ONNX model data.
//
// When opts.Provider cannot be appended the session is still created on
// CPU and ProviderErr reports why.
func (e *Env) NewSession(modelData []byte, opts SessionOptions) (*Session, error) {
	if len(modelData) == 0 {
		return nil, fmt.Errorf("onnx: empty model data")
	}

	var so *C.OrtSessionOptions
	if err := checkStatus(C.ort_create_session_options(api(), &so)); err != nil {
		return nil, err
	}
	defer C.ort_release_session_options(api(), so)

	if err := checkStatus(C.ort_set_graph_opt(api(), so)); err != nil {
		return nil, err
	}
	if opts.Threads > 0 {
		if err := checkStatus(C.ort_set_threads(api(), so, C.int(opts.Threads), 1)); err != nil {
			return nil, err
		}
	}
	var providerErr error
	if opts.Provider != "" {
		cProvider := C.CString(opts.Provider)
		providerErr = checkStatus(C.ort_append_provider(api(), so, cProvider))
		C.free(unsafe.Pointer(cProvider))
	}

	var session *C.OrtSession
	if err := checkStatus(C.ort_create_session_from_memory(
		api(), e.env,
		unsafe.Pointer(&modelData[0]), C.size_t(len(modelData)),
		so, &session,
	)); err != nil {
		return nil, err
	}

	s := &Session{session: session, pinned: modelData, providerErr: providerErr}
	runtime.SetFinalizer(s, (*Session).Close)

	var err error
	if s.inputs, err = s.ioNames(0); err != nil {
		s.Close()
		return nil, err
	}
	if s.outputs, err = s.ioNames(1); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the environment.
func (e *Env) Close() error {
	if e.env != nil {
		C.ort_release_env(api(), e.env)
		e.env = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session holds a loaded ONNX model.
type Session struct {
	session     *C.OrtSession
	pinned      any // prevents GC of model data
	inputs      []string
	outputs     []string
	providerErr error
}

func (s *Session) ioNames(output C.int) ([]string, error) {
	var n C.size_t
	if err := checkStatus(C.ort_io_count(api(), s.session, output, &n)); err != nil {
		return nil, err
	}
	names := make([]string, int(n))
	for i := range names {
		var cName *C.char
		if err := checkStatus(C.ort_io_name(api(), s.session, output, C.size_t(i), &cName)); err != nil {
			return nil, err
		}
		names[i] = C.GoString(cName)
		C.free(unsafe.Pointer(cName))
	}
	return names, nil
}

// InputNames returns the model's input names in declaration order.
func (s *Session) InputNames() []string { return s.inputs }

// OutputNames returns the model's output names in declaration order.
func (s *Session) OutputNames() []string { return s.outputs }

// ProviderErr reports why the requested execution provider was not
// appended, or nil.
func (s *Session) ProviderErr() error { return s.providerErr }

// Run executes inference with the given inputs and output names.
// Returns output tensors. The caller must close each output tensor.
func (s *Session) Run(inputNames []string, inputs []*Tensor, outputNames []string) ([]*Tensor, error) {
	if len(inputNames) != len(inputs) {
		return nil, fmt.Errorf("onnx: input names/tensors length mismatch: %d vs %d", len(inputNames), len(inputs))
	}
	if len(inputs) == 0 || len(outputNames) == 0 {
		return nil, fmt.Errorf("onnx: run needs at least one input and output")
	}

	cInputNames := make([]*C.char, len(inputNames))
	for i, name := range inputNames {
		cInputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cInputNames[i]))
	}

	cInputs := make([]*C.OrtValue, len(inputs))
	for i, t := range inputs {
		cInputs[i] = t.value
	}

	cOutputNames := make([]*C.char, len(outputNames))
	for i, name := range outputNames {
		cOutputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cOutputNames[i]))
	}

	cOutputs := make([]*C.OrtValue, len(outputNames))

	status := C.ort_run(api(), s.session,
		&cInputNames[0], &cInputs[0], C.size_t(len(inputs)),
		&cOutputNames[0], C.size_t(len(outputNames)), &cOutputs[0],
	)
	runtime.KeepAlive(inputs)
	if err := checkStatus(status); err != nil {
		return nil, err
	}

	outputs := make([]*Tensor, len(outputNames))
	for i, val := range cOutputs {
		outputs[i] = &Tensor{value: val, owned: true}
		runtime.SetFinalizer(outputs[i], (*Tensor).Close)
	}
	return outputs, nil
}

// Close releases the session.
func (s *Session) Close() error {
	if s.session != nil {
		C.ort_release_session(api(), s.session)
		s.session = nil
		runtime.SetFinalizer(s, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Tensor
// --------------------------------------------------------------------------

// Tensor is an N-dimensional tensor (OrtValue).
type Tensor struct {
	value  *C.OrtValue
	pinned any  // prevents GC of external data
	owned  bool // if true, Close releases the OrtValue
}

type element interface {
	float32 | int64 | int32
}

func elementType[T element]() C.ONNXTensorElementDataType {
	var zero T
	switch any(zero).(type) {
	case int64:
		return C.ONNX_TENSOR_ELEMENT_DATA_TYPE_INT64
	case int32:
		return C.ONNX_TENSOR_ELEMENT_DATA_TYPE_INT32
	default:
		return C.ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT
	}
}

func newTensor[T element](shape []int64, data []T) (*Tensor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("onnx: empty tensor data")
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("onnx: empty tensor shape")
	}

	total := int64(1)
	for _, d := range shape {
		total *= d
	}
	if int64(len(data)) < total {
		return nil, fmt.Errorf("onnx: tensor data too short: got %d, need %d", len(data), total)
	}

	var memInfo *C.OrtMemoryInfo
	if err := checkStatus(C.ort_create_cpu_memory_info(api(), &memInfo)); err != nil {
		return nil, err
	}
	defer C.ort_release_memory_info(api(), memInfo)

	var zero T
	var value *C.OrtValue
	if err := checkStatus(C.ort_create_tensor(
		api(), memInfo,
		unsafe.Pointer(&data[0]),
		C.size_t(len(data)*int(unsafe.Sizeof(zero))),
		(*C.int64_t)(unsafe.Pointer(&shape[0])),
		C.size_t(len(shape)),
		elementType[T](),
		&value,
	)); err != nil {
		return nil, err
	}

	t := &Tensor{value: value, pinned: data, owned: true}
	runtime.SetFinalizer(t, (*Tensor).Close)
	return t, nil
}

// NewTensor creates a float32 tensor with the given shape and data.
// The data slice must remain valid for the lifetime of the Tensor.
func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	return newTensor(shape, data)
}

// NewTensorInt64 creates an int64 tensor.
func NewTensorInt64(shape []int64, data []int64) (*Tensor, error) {
	return newTensor(shape, data)
}

// NewTensorInt32 creates an int32 tensor.
func NewTensorInt32(shape []int64, data []int32) (*Tensor, error) {
	return newTensor(shape, data)
}

// FloatData copies the tensor data into a new float32 slice. Integer
// tensors are converted.
func (t *Tensor) FloatData() ([]float32, error) {
	shape, err := t.Shape()
	if err != nil {
		return nil, err
	}
	total := 1
	for _, d := range shape {
		total *= int(d)
	}
	if total <= 0 {
		return nil, nil
	}

	var typ C.ONNXTensorElementDataType
	if err := checkStatus(C.ort_get_tensor_type(api(), t.value, &typ)); err != nil {
		return nil, err
	}
	var ptr unsafe.Pointer
	if err := checkStatus(C.ort_get_tensor_data(api(), t.value, &ptr)); err != nil {
		return nil, err
	}

	out := make([]float32, total)
	switch typ {
	case C.ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT:
		C.memcpy(unsafe.Pointer(&out[0]), ptr, C.size_t(total*4))
	case C.ONNX_TENSOR_ELEMENT_DATA_TYPE_INT64:
		for i, v := range unsafe.Slice((*int64)(ptr), total) {
			out[i] = float32(v)
		}
	case C.ONNX_TENSOR_ELEMENT_DATA_TYPE_INT32:
		for i, v := range unsafe.Slice((*int32)(ptr), total) {
			out[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("onnx: unsupported output element type %d", int(typ))
	}
	return out, nil
}

// Shape returns the tensor dimensions.
func (t *Tensor) Shape() ([]int64, error) {
	var ndim C.size_t
	if err := checkStatus(C.ort_get_tensor_ndim(api(), t.value, &ndim)); err != nil {
		return nil, err
	}

	if ndim == 0 {
		return nil, nil
	}

	shape := make([]int64, int(ndim))
	if err := checkStatus(C.ort_get_tensor_shape(api(), t.value, (*C.int64_t)(unsafe.Pointer(&shape[0])), ndim)); err != nil {
		return nil, err
	}
	return shape, nil
}

// Close releases the tensor.
func (t *Tensor) Close() error {
	if t.value != nil && t.owned {
		C.ort_release_value(api(), t.value)
		t.value = nil
		runtime.SetFinalizer(t, nil)
	}
	return nil
}
