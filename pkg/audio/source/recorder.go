package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/storage"
)

// Recorder keeps every frame a source produces so the session audio can
// be saved as a 16 kHz mono WAV afterwards.
type Recorder struct {
	mu      sync.Mutex
	samples []float32
}

// Tee returns a frame callback that records each frame and then passes
// it to next.
func (r *Recorder) Tee(next func(pcm.Frame)) func(pcm.Frame) {
	return func(fr pcm.Frame) {
		r.mu.Lock()
		r.samples = append(r.samples, fr...)
		r.mu.Unlock()
		next(fr)
	}
}

// Wrap returns src with every frame it delivers recorded by r.
func (r *Recorder) Wrap(src Source) Source {
	return &recording{Source: src, r: r}
}

type recording struct {
	Source
	r *Recorder
}

func (s *recording) Start(onFrame func(pcm.Frame)) error {
	return s.Source.Start(s.r.Tee(onFrame))
}

// Len returns the number of recorded samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Save writes the recording to path in files.
func (r *Recorder) Save(ctx context.Context, files storage.FileStore, path string) error {
	r.mu.Lock()
	samples := make([]float32, len(r.samples))
	copy(samples, r.samples)
	r.mu.Unlock()

	var buf seekBuffer
	if err := EncodeWAV(&buf, samples, pcm.Mono16K); err != nil {
		return err
	}
	if err := storage.WriteFile(ctx, files, path, buf.data); err != nil {
		return fmt.Errorf("source: save recording: %w", err)
	}
	return nil
}

// EncodeWAV writes interleaved samples as 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, samples []float32, f pcm.Format) error {
	enc := wav.NewEncoder(w, f.SampleRate, 16, f.Channels, 1)
	ints := pcm.Float32ToInt16(samples)
	data := make([]int, len(ints))
	for i, v := range ints {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("source: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("source: encode wav: %w", err)
	}
	return nil
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back
// to patch chunk sizes.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("source: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("source: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}
