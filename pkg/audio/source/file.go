package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/audio/resampler"
)

// FileConfig configures a recorded-file source.
type FileConfig struct {
	Config `yaml:",inline"`

	// Quality selects the resampler. Default resampler.High.
	Quality resampler.Quality `yaml:"quality,omitempty"`

	// Realtime paces frames to the wall clock instead of delivering them
	// as fast as the callback returns.
	Realtime bool `yaml:"realtime,omitempty"`

	Logger *slog.Logger `yaml:"-"`
}

// File is a Source that decodes a WAV or MP3 recording. Done closes once
// the last (zero-padded) frame has been delivered.
type File struct {
	name string
	open func() (io.ReadSeeker, error)
	cfg  FileConfig
	log  *slog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	err     error
	format  pcm.Format
	frames  int
}

var _ Source = (*File)(nil)

// NewFile returns a source reading the file at path. The file is opened
// on Start.
func NewFile(path string, cfg FileConfig) *File {
	return newFile(path, func() (io.ReadSeeker, error) { return os.Open(path) }, cfg)
}

// NewReader returns a source decoding r. The name is used for format
// detection and logging.
func NewReader(name string, r io.ReadSeeker, cfg FileConfig) *File {
	return newFile(name, func() (io.ReadSeeker, error) { return r, nil }, cfg)
}

func newFile(name string, open func() (io.ReadSeeker, error), cfg FileConfig) *File {
	if cfg.Quality == "" {
		cfg.Quality = resampler.High
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &File{
		name: name,
		open: open,
		cfg:  cfg,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start opens and probes the file, then delivers frames from a new
// goroutine. Format errors are returned here.
func (f *File) Start(onFrame func(pcm.Frame)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return ErrStarted
	}

	r, err := f.open()
	if err != nil {
		return fmt.Errorf("source: open %s: %w", f.name, err)
	}
	closeFile := func() {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}
	c, err := Detect(f.name, r)
	if err != nil {
		closeFile()
		return err
	}
	dec, err := newDecoder(c, r)
	if err != nil {
		closeFile()
		return fmt.Errorf("source: %s: %w", f.name, err)
	}

	var frames int
	emit := func(fr pcm.Frame) {
		frames++
		onFrame(fr)
	}
	conv, err := NewConverter(dec.Format(), f.cfg.Config, f.cfg.Quality, emit)
	if err != nil {
		closeFile()
		return err
	}

	f.format = dec.Format()
	f.started = true
	f.log.Info("source: file opened", "name", f.name, "container", c, "format", f.format.String())

	go func() {
		defer close(f.done)
		defer closeFile()
		err := f.loop(dec, conv, &frames)
		f.mu.Lock()
		f.err = err
		f.frames = frames
		f.mu.Unlock()
		if err != nil {
			f.log.Error("source: file decode failed", "name", f.name, "error", err)
			return
		}
		f.log.Info("source: file finished", "name", f.name,
			"frames", frames, "duration", pcm.Mono16K.Duration(frames*f.cfg.frameSize()))
	}()
	return nil
}

func (f *File) loop(dec decoder, conv *Converter, frames *int) error {
	var epoch time.Time
	if f.cfg.Realtime {
		epoch = time.Now()
	}
	frameDur := pcm.Mono16K.Duration(f.cfg.frameSize())

	for {
		select {
		case <-f.stop:
			return nil
		default:
		}

		chunk, err := dec.Read()
		if errors.Is(err, io.EOF) {
			conv.Flush()
			return nil
		}
		if err != nil {
			return err
		}
		if err := conv.Write(chunk); err != nil {
			return err
		}

		if f.cfg.Realtime {
			ahead := time.Until(epoch.Add(time.Duration(*frames) * frameDur))
			if ahead > 0 {
				select {
				case <-f.stop:
					return nil
				case <-time.After(ahead):
				}
			}
		}
	}
}

// Stop ends delivery early and waits for the decode goroutine.
func (f *File) Stop() error {
	f.mu.Lock()
	started := f.started
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	if !started {
		f.started = true
		close(f.done)
	}
	f.mu.Unlock()
	<-f.done
	return nil
}

// Done is closed when the file is exhausted or Stop was called.
func (f *File) Done() <-chan struct{} { return f.done }

// Err returns the decode error that ended the stream, if any.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Format returns the file's native format; zero before Start.
func (f *File) Format() pcm.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// Frames returns the number of frames delivered, valid after Done.
func (f *File) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}
