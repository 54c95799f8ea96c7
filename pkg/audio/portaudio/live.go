package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/audio/resampler"
	"github.com/haivivi/voxid/pkg/audio/source"
)

// LiveConfig configures a microphone source.
type LiveConfig struct {
	source.Config `yaml:",inline"`

	// Device is the PortAudio device index; negative selects the default
	// input device.
	Device int `yaml:"device"`

	// Channels to open; zero opens all the device offers.
	Channels int `yaml:"channels,omitempty"`

	// BufferFrames is the capture buffer length in native frames.
	// Default 20 ms.
	BufferFrames int `yaml:"buffer_frames,omitempty"`

	Logger *slog.Logger `yaml:"-"`
}

// Live is a source.Source reading from a microphone at the device's
// native rate and channel count.
type Live struct {
	cfg LiveConfig
	log *slog.Logger

	mu      sync.Mutex
	stream  *InputStream
	started bool
	stopped atomic.Bool
	done    chan struct{}
	err     error

	overflows atomic.Int64
}

var _ source.Source = (*Live)(nil)

// NewLive returns a microphone source. Nothing is opened until Start.
func NewLive(cfg LiveConfig) *Live {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Live{cfg: cfg, log: log, done: make(chan struct{})}
}

// Start opens the device and begins capture. Errors classify as
// source.ErrPermissionDenied, source.ErrDeviceBusy or source.ErrNoDevice
// when the host reports enough to tell.
func (l *Live) Start(onFrame func(pcm.Frame)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return source.ErrStarted
	}

	dev, err := l.device()
	if err != nil {
		return err
	}
	f := dev.Format()
	if l.cfg.Channels > 0 && l.cfg.Channels < f.Channels {
		f.Channels = l.cfg.Channels
	}
	bufFrames := l.cfg.BufferFrames
	if bufFrames <= 0 {
		bufFrames = f.SampleRate / 50
	}

	conv, err := source.NewConverter(f, l.cfg.Config, resampler.Linear, onFrame)
	if err != nil {
		return err
	}
	stream, err := OpenInput(dev, f, bufFrames)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}

	l.log.Info("portaudio: capture started",
		"device", dev.Name, "host_api", dev.HostAPI, "format", f.String(), "buffer_frames", bufFrames)
	l.stream = stream
	l.started = true
	go l.loop(stream, conv)
	return nil
}

func (l *Live) device() (DeviceInfo, error) {
	if l.cfg.Device < 0 {
		return DefaultInputDevice()
	}
	return Device(l.cfg.Device)
}

func (l *Live) loop(stream *InputStream, conv *source.Converter) {
	defer close(l.done)
	for {
		samples, err := stream.Read()
		if l.stopped.Load() {
			return
		}
		switch {
		case errors.Is(err, ErrOverflow):
			if n := l.overflows.Add(1); n == 1 || n%100 == 0 {
				l.log.Warn("portaudio: input overflow", "count", n)
			}
		case err != nil:
			l.err = fmt.Errorf("portaudio: capture: %w", err)
			l.log.Error("portaudio: capture failed", "error", err)
			stream.Close()
			return
		}
		if err := conv.Write(samples); err != nil {
			l.err = err
			stream.Close()
			return
		}
	}
}

// Stop ends capture and waits for the read loop to exit.
func (l *Live) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.started = true
		l.stopped.Store(true)
		close(l.done)
		l.mu.Unlock()
		return nil
	}
	stream := l.stream
	l.mu.Unlock()

	if l.stopped.Swap(true) {
		<-l.done
		return nil
	}
	err := stream.Close()
	<-l.done
	l.log.Info("portaudio: capture stopped", "overflows", l.overflows.Load())
	return err
}

// Done is closed when capture has ended.
func (l *Live) Done() <-chan struct{} { return l.done }

// Err returns the error that ended capture, if any.
func (l *Live) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Overflows returns how many capture buffers overflowed.
func (l *Live) Overflows() int64 { return l.overflows.Load() }
