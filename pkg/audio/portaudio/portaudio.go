// Package portaudio captures microphone audio through the PortAudio
// library.
//
// This package uses CGO. It requires portaudio installed via pkg-config
// (brew install portaudio, apt install portaudio19-dev).
package portaudio

/*
#cgo pkg-config: portaudio-2.0

#include <portaudio.h>
#include <stdlib.h>
#include <string.h>

// Wrapper functions using void* to avoid CGO type issues with PaStream
static PaError pa_open_input(void **stream,
                             const PaStreamParameters *inputParams,
                             double sampleRate,
                             unsigned long framesPerBuffer) {
    return Pa_OpenStream((PaStream**)stream, inputParams, NULL, sampleRate,
                         framesPerBuffer, paClipOff, NULL, NULL);
}

static PaError pa_start_stream(void *stream) {
    return Pa_StartStream((PaStream*)stream);
}

static PaError pa_abort_stream(void *stream) {
    return Pa_AbortStream((PaStream*)stream);
}

static PaError pa_close_stream(void *stream) {
    return Pa_CloseStream((PaStream*)stream);
}

static PaError pa_read_stream(void *stream, void *buffer, unsigned long frames) {
    return Pa_ReadStream((PaStream*)stream, buffer, frames);
}

static long pa_host_error_code(void) {
    const PaHostErrorInfo *info = Pa_GetLastHostErrorInfo();
    return info ? info->errorCode : 0;
}

static const char *pa_host_error_text(void) {
    const PaHostErrorInfo *info = Pa_GetLastHostErrorInfo();
    return (info && info->errorText) ? info->errorText : "";
}
*/
import "C"

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/audio/source"
)

var (
	initOnce sync.Once
	initErr  error
)

// paError converts a PortAudio error code to a classified
// *source.DeviceError.
func paError(op string, code C.PaError) error {
	if code == C.paNoError {
		return nil
	}
	e := &source.DeviceError{
		Op:   op,
		Code: int(code),
		Text: C.GoString(C.Pa_GetErrorText(code)),
	}
	if code == C.paUnanticipatedHostError {
		e.HostCode = int(C.pa_host_error_code())
		e.HostText = C.GoString(C.pa_host_error_text())
	}
	return source.ClassifyDeviceError(e)
}

// Initialize initializes the PortAudio library.
// It is safe to call multiple times.
func Initialize() error {
	initOnce.Do(func() {
		initErr = paError("initialize", C.Pa_Initialize())
	})
	return initErr
}

// DeviceInfo describes an audio input device.
type DeviceInfo struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	HostAPI           string  `json:"hostApi"`
	MaxInputChannels  int     `json:"maxInputChannels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
	LowInputLatency   float64 `json:"lowInputLatency"`
	IsDefault         bool    `json:"isDefault"`
}

// Format returns the device's native capture format.
func (d DeviceInfo) Format() pcm.Format {
	return pcm.Format{SampleRate: int(d.DefaultSampleRate), Channels: d.MaxInputChannels}
}

func deviceInfo(idx C.PaDeviceIndex, def C.PaDeviceIndex) (DeviceInfo, bool) {
	info := C.Pa_GetDeviceInfo(idx)
	if info == nil {
		return DeviceInfo{}, false
	}
	d := DeviceInfo{
		Index:             int(idx),
		Name:              C.GoString(info.name),
		MaxInputChannels:  int(info.maxInputChannels),
		DefaultSampleRate: float64(info.defaultSampleRate),
		LowInputLatency:   float64(info.defaultLowInputLatency),
		IsDefault:         idx == def,
	}
	if api := C.Pa_GetHostApiInfo(info.hostApi); api != nil {
		d.HostAPI = C.GoString(api.name)
	}
	return d, true
}

// Devices returns the devices that can capture audio.
func Devices() ([]DeviceInfo, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	count := int(C.Pa_GetDeviceCount())
	if count < 0 {
		return nil, paError("list devices", C.PaError(count))
	}

	def := C.Pa_GetDefaultInputDevice()
	var devices []DeviceInfo
	for i := 0; i < count; i++ {
		d, ok := deviceInfo(C.PaDeviceIndex(i), def)
		if !ok || d.MaxInputChannels == 0 {
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// DefaultInputDevice returns the default input device.
func DefaultInputDevice() (DeviceInfo, error) {
	if err := Initialize(); err != nil {
		return DeviceInfo{}, err
	}
	idx := C.Pa_GetDefaultInputDevice()
	if idx == C.paNoDevice {
		return DeviceInfo{}, source.ErrNoDevice
	}
	d, ok := deviceInfo(idx, idx)
	if !ok || d.MaxInputChannels == 0 {
		return DeviceInfo{}, source.ErrNoDevice
	}
	return d, nil
}

// Device returns the input device with the given index.
func Device(index int) (DeviceInfo, error) {
	if err := Initialize(); err != nil {
		return DeviceInfo{}, err
	}
	if index < 0 || index >= int(C.Pa_GetDeviceCount()) {
		return DeviceInfo{}, source.ErrNoDevice
	}
	d, ok := deviceInfo(C.PaDeviceIndex(index), C.Pa_GetDefaultInputDevice())
	if !ok || d.MaxInputChannels == 0 {
		return DeviceInfo{}, source.ErrNoDevice
	}
	return d, nil
}

// InputStream is an open float32 capture stream.
type InputStream struct {
	mu       sync.Mutex
	stream   unsafe.Pointer
	buffer   unsafe.Pointer
	frames   int
	channels int
	closed   bool
}

// OpenInput opens a capture stream on device with format f. Each Read
// returns framesPerBuffer frames of interleaved samples.
func OpenInput(device DeviceInfo, f pcm.Format, framesPerBuffer int) (*InputStream, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	if !f.Valid() || framesPerBuffer <= 0 {
		return nil, errors.New("portaudio: invalid stream format")
	}

	params := &C.PaStreamParameters{
		device:                    C.PaDeviceIndex(device.Index),
		channelCount:              C.int(f.Channels),
		sampleFormat:              C.paFloat32,
		suggestedLatency:          C.PaTime(device.LowInputLatency),
		hostApiSpecificStreamInfo: nil,
	}

	var paStream unsafe.Pointer
	if err := paError("open input", C.pa_open_input(
		&paStream,
		params,
		C.double(f.SampleRate),
		C.ulong(framesPerBuffer),
	)); err != nil {
		return nil, err
	}

	size := framesPerBuffer * f.Channels * 4
	return &InputStream{
		stream:   paStream,
		buffer:   C.malloc(C.size_t(size)),
		frames:   framesPerBuffer,
		channels: f.Channels,
	}, nil
}

// Start starts capture.
func (s *InputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("portaudio: stream closed")
	}
	return paError("start", C.pa_start_stream(s.stream))
}

// Close aborts and closes the stream. It is idempotent.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	C.pa_abort_stream(s.stream)
	err := paError("close", C.pa_close_stream(s.stream))
	C.free(s.buffer)
	return err
}

// ErrOverflow reports that input was lost because reads fell behind. The
// samples returned alongside it are still valid.
var ErrOverflow = errors.New("portaudio: input overflowed")

// Read blocks until one buffer is captured and returns its interleaved
// samples.
func (s *InputStream) Read() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("portaudio: stream closed")
	}

	code := C.pa_read_stream(s.stream, s.buffer, C.ulong(s.frames))
	if code != C.paNoError && code != C.paInputOverflowed {
		return nil, paError("read", code)
	}

	samples := make([]float32, s.frames*s.channels)
	C.memcpy(unsafe.Pointer(&samples[0]), s.buffer, C.size_t(len(samples)*4))
	if code == C.paInputOverflowed {
		return samples, ErrOverflow
	}
	return samples, nil
}
