// Package source defines where pipeline audio comes from.
//
// A Source delivers mono float32 frames of pcm.FrameSize samples at 16 kHz
// to a callback, whatever the native rate and channel layout of the device
// or file. Only the primary channel is kept; nothing is downmixed.
//
// The callback runs on the source's own goroutine and must not block: the
// pipeline only copies the frame into a bounded queue there.
package source

import (
	"errors"

	"github.com/haivivi/voxid/pkg/audio/pcm"
)

// Source is a stream of 16 kHz mono frames.
type Source interface {
	// Start begins delivering frames to onFrame. It returns once capture
	// is running; a device that cannot be opened fails here.
	Start(onFrame func(pcm.Frame)) error

	// Stop ends capture and releases the device. It is idempotent.
	Stop() error

	// Done is closed when the source stops producing frames, either
	// because Stop was called or because the input ended.
	Done() <-chan struct{}

	// Err returns the error that ended the stream, if any, after Done is
	// closed. End of file is not an error.
	Err() error
}

// Sentinel errors. Callers tell them apart with errors.Is.
var (
	// ErrPermissionDenied means the operating system refused microphone
	// access. The user has to grant it; retrying will not help.
	ErrPermissionDenied = errors.New("source: microphone permission denied")

	// ErrDeviceBusy means the device exists but another process holds it
	// or it disappeared. Retrying later may succeed.
	ErrDeviceBusy = errors.New("source: audio device busy or unavailable")

	// ErrNoDevice means there is no input device at all.
	ErrNoDevice = errors.New("source: no audio input device")

	// ErrStarted is returned by Start on a source that already started.
	ErrStarted = errors.New("source: already started")
)

// Config holds the settings shared by all sources.
type Config struct {
	// Channel is the primary channel index kept from multichannel input.
	Channel int `yaml:"channel,omitempty"`

	// FrameSize is the output frame length in samples. Default 512.
	FrameSize int `yaml:"frame_size,omitempty"`
}

func (c Config) frameSize() int {
	if c.FrameSize <= 0 {
		return pcm.FrameSize
	}
	return c.FrameSize
}
