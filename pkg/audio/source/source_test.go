package source

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/audio/resampler"
	"github.com/haivivi/voxid/pkg/storage"
)

// stereoWAV returns a WAV with a tone on channel 0 and silence on 1.
func stereoWAV(t *testing.T, rate int, dur time.Duration) []byte {
	t.Helper()
	f := pcm.Format{SampleRate: rate, Channels: 2}
	n := f.SamplesInDuration(dur)
	samples := make([]float32, 2*n)
	for i := range n {
		samples[2*i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	var buf seekBuffer
	if err := EncodeWAV(&buf, samples, f); err != nil {
		t.Fatal(err)
	}
	return buf.data
}

type collector struct {
	mu     sync.Mutex
	frames []pcm.Frame
}

func (c *collector) add(fr pcm.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, fr)
	c.mu.Unlock()
}

func (c *collector) peak() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var p float32
	for _, fr := range c.frames {
		for _, s := range fr {
			p = max(p, float32(math.Abs(float64(s))))
		}
	}
	return p
}

func waitDone(t *testing.T, s Source) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("source did not finish")
	}
}

func TestFileWAV(t *testing.T) {
	data := stereoWAV(t, 48000, time.Second)
	var c collector
	src := NewReader("tone.wav", bytes.NewReader(data), FileConfig{Quality: resampler.Linear})
	if err := src.Start(c.add); err != nil {
		t.Fatal(err)
	}
	waitDone(t, src)
	if err := src.Err(); err != nil {
		t.Fatal(err)
	}

	if got := src.Format(); got != (pcm.Format{SampleRate: 48000, Channels: 2}) {
		t.Errorf("format = %v", got)
	}
	// 16000 samples at 16 kHz: 31 full frames plus a padded tail.
	if len(c.frames) != 32 || src.Frames() != 32 {
		t.Fatalf("frames = %d (%d), want 32", len(c.frames), src.Frames())
	}
	for i, fr := range c.frames {
		if len(fr) != pcm.FrameSize {
			t.Fatalf("frame %d has %d samples", i, len(fr))
		}
	}
	if p := c.peak(); p < 0.4 || p > 0.55 {
		t.Errorf("peak = %v, want about 0.5", p)
	}
}

func TestFilePrimaryChannel(t *testing.T) {
	data := stereoWAV(t, 16000, 500*time.Millisecond)
	var c collector
	src := NewReader("tone.wav", bytes.NewReader(data), FileConfig{Config: Config{Channel: 1}})
	if err := src.Start(c.add); err != nil {
		t.Fatal(err)
	}
	waitDone(t, src)
	if len(c.frames) == 0 {
		t.Fatal("no frames")
	}
	if p := c.peak(); p > 1e-3 {
		t.Errorf("channel 1 should be silent, peak = %v", p)
	}
}

func TestFileRealtime(t *testing.T) {
	data := stereoWAV(t, 16000, 200*time.Millisecond)
	var c collector
	src := NewReader("tone.wav", bytes.NewReader(data), FileConfig{Realtime: true})
	begin := time.Now()
	if err := src.Start(c.add); err != nil {
		t.Fatal(err)
	}
	waitDone(t, src)
	if el := time.Since(begin); el < 150*time.Millisecond {
		t.Errorf("realtime delivery took %v, want about 200ms", el)
	}
}

func TestFileStop(t *testing.T) {
	data := stereoWAV(t, 16000, 10*time.Second)
	var c collector
	src := NewReader("long.wav", bytes.NewReader(data), FileConfig{Realtime: true})
	if err := src.Start(c.add); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := src.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := src.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(c.frames) > 20 {
		t.Errorf("delivered %d frames after early stop", len(c.frames))
	}
	if err := src.Start(c.add); !errors.Is(err, ErrStarted) {
		t.Errorf("restart = %v, want ErrStarted", err)
	}
}

func TestFileStopBeforeStart(t *testing.T) {
	src := NewFile("/nonexistent.wav", FileConfig{})
	if err := src.Stop(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, src)
}

func TestFileErrors(t *testing.T) {
	src := NewReader("noise.bin", bytes.NewReader([]byte("not audio at all")), FileConfig{})
	if err := src.Start(func(pcm.Frame) {}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Start = %v, want ErrUnsupportedFormat", err)
	}

	src = NewFile(filepath.Join(t.TempDir(), "missing.wav"), FileConfig{})
	if err := src.Start(func(pcm.Frame) {}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want Container
	}{
		{"a.WAV", nil, WAV},
		{"a.mp3", nil, MP3},
		{"blob", []byte("RIFF\x00\x00"), WAV},
		{"blob", []byte("ID3\x04"), MP3},
		{"blob", []byte{0xFF, 0xFB, 0x90, 0x00}, MP3},
	}
	for _, tt := range tests {
		got, err := Detect(tt.name, bytes.NewReader(tt.head))
		if err != nil || got != tt.want {
			t.Errorf("Detect(%q, %q) = %v, %v; want %v", tt.name, tt.head, got, err, tt.want)
		}
	}
}

func TestConverter(t *testing.T) {
	var frames []pcm.Frame
	conv, err := NewConverter(pcm.Format{SampleRate: 44100, Channels: 2}, Config{}, resampler.Linear,
		func(fr pcm.Frame) { frames = append(frames, fr) })
	if err != nil {
		t.Fatal(err)
	}
	// Feed 1 s of audio in odd-sized chunks.
	in := make([]float32, 2*44100)
	for len(in) > 0 {
		n := min(2*733, len(in))
		if err := conv.Write(in[:n]); err != nil {
			t.Fatal(err)
		}
		in = in[n:]
	}
	if len(frames) != 31 {
		t.Errorf("frames = %d, want 31", len(frames))
	}
	conv.Flush()
	if len(frames) != 32 {
		t.Errorf("frames after flush = %d, want 32", len(frames))
	}

	if _, err := NewConverter(pcm.Format{}, Config{}, resampler.Linear, nil); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestRecorder(t *testing.T) {
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var rec Recorder
	var c collector
	tee := rec.Tee(c.add)
	for i := range 10 {
		fr := make(pcm.Frame, pcm.FrameSize)
		for j := range fr {
			fr[j] = float32(i) / 20
		}
		tee(fr)
	}
	if rec.Len() != 10*pcm.FrameSize || len(c.frames) != 10 {
		t.Fatalf("recorded %d samples, forwarded %d frames", rec.Len(), len(c.frames))
	}

	ctx := context.Background()
	if err := rec.Save(ctx, files, "rec/session.wav"); err != nil {
		t.Fatal(err)
	}
	data, err := storage.ReadFile(ctx, files, "rec/session.wav")
	if err != nil {
		t.Fatal(err)
	}

	var back collector
	src := NewReader("session.wav", bytes.NewReader(data), FileConfig{})
	if err := src.Start(back.add); err != nil {
		t.Fatal(err)
	}
	waitDone(t, src)
	if len(back.frames) != 10 {
		t.Fatalf("decoded %d frames, want 10", len(back.frames))
	}
	if got := back.frames[9][100]; math.Abs(float64(got)-0.45) > 1e-3 {
		t.Errorf("sample = %v, want 0.45", got)
	}

	var again Recorder
	var fwd collector
	wrapped := again.Wrap(NewReader("session.wav", bytes.NewReader(data), FileConfig{}))
	if err := wrapped.Start(fwd.add); err != nil {
		t.Fatal(err)
	}
	waitDone(t, wrapped)
	if again.Len() != 10*pcm.FrameSize || len(fwd.frames) != 10 {
		t.Errorf("wrapped source recorded %d samples, forwarded %d frames", again.Len(), len(fwd.frames))
	}
}
