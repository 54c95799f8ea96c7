package pcm

import (
	"fmt"
	"time"
)

// Pipeline defaults.
const (
	SampleRate = 16000
	FrameSize  = 512
)

// Mono16K is the format every stage after the audio source consumes.
var Mono16K = Format{SampleRate: SampleRate, Channels: 1}

// Format describes interleaved PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// SamplesInDuration returns the number of samples per channel in d.
func (f Format) SamplesInDuration(d time.Duration) int {
	return int(time.Duration(f.SampleRate) * d / time.Second)
}

// Duration returns the play time of n samples per channel.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Valid reports whether f has a positive rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels)
}

// Frame is a fixed-length block of mono float32 samples.
type Frame []float32

// Duration returns the frame length at the pipeline sample rate.
func (fr Frame) Duration() time.Duration {
	return Mono16K.Duration(len(fr))
}
