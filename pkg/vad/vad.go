// Package vad finds speech segments in a stream of 16 kHz frames.
//
// Detection is split in two. A Scorer turns each frame into a speech
// probability; its recurrent State is an explicit value that the caller
// passes in and reassigns from the result, so scorers hold no per-stream
// data. A Machine applies hysteresis to the probabilities and cuts
// Segments.
package vad

import (
	"context"
	"time"

	"github.com/haivivi/voxid/pkg/audio/pcm"
)

// State is the recurrent state of a Scorer. The zero value is the state
// at the start of a stream.
type State struct {
	H []float32
	C []float32
}

// IsZero reports whether st is the start-of-stream state.
func (st State) IsZero() bool { return st.H == nil && st.C == nil }

// Scorer computes the speech probability of one frame.
type Scorer interface {
	// Score returns the probability in [0, 1] that frame contains speech
	// and the state to pass with the next frame. st is not modified.
	Score(ctx context.Context, frame []float32, st State) (float32, State, error)
}

// Segment is a span of speech with its audio.
type Segment struct {
	// Start and End are offsets from the start of the stream; End is
	// exclusive.
	Start time.Duration
	End   time.Duration

	Samples []float32
}

// Duration returns End - Start.
func (s Segment) Duration() time.Duration { return s.End - s.Start }

// Config holds the hysteresis parameters.
type Config struct {
	// Threshold is the probability at or above which a frame counts as
	// speech while in silence.
	Threshold float32 `yaml:"threshold,omitempty"`

	// NegThreshold is the probability below which a frame counts as
	// silence while in speech.
	NegThreshold float32 `yaml:"neg_threshold,omitempty"`

	// MinSpeech is how long speech must last before a segment opens.
	MinSpeech time.Duration `yaml:"min_speech,omitempty"`

	// Hangover is how long silence must last before a segment closes.
	// The hangover audio stays in the segment.
	Hangover time.Duration `yaml:"hangover,omitempty"`

	// MinSegment drops closed segments shorter than this.
	MinSegment time.Duration `yaml:"min_segment,omitempty"`

	// MaxSegment force-closes a segment that grows this long.
	MaxSegment time.Duration `yaml:"max_segment,omitempty"`

	// PreRoll is audio from before the speech onset kept at the start of
	// each segment.
	PreRoll time.Duration `yaml:"pre_roll,omitempty"`

	// FrameSize is the number of samples per frame.
	FrameSize int `yaml:"frame_size,omitempty"`
}

// DefaultConfig returns the standard 16 kHz settings.
func DefaultConfig() Config {
	return Config{
		Threshold:    0.5,
		NegThreshold: 0.35,
		MinSpeech:    250 * time.Millisecond,
		Hangover:     300 * time.Millisecond,
		MinSegment:   300 * time.Millisecond,
		MaxSegment:   30 * time.Second,
		PreRoll:      96 * time.Millisecond,
		FrameSize:    pcm.FrameSize,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.NegThreshold <= 0 || c.NegThreshold > c.Threshold {
		c.NegThreshold = min(def.NegThreshold, c.Threshold)
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = def.MinSpeech
	}
	if c.Hangover <= 0 {
		c.Hangover = def.Hangover
	}
	if c.MinSegment < 0 {
		c.MinSegment = 0
	} else if c.MinSegment == 0 {
		c.MinSegment = def.MinSegment
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = def.MaxSegment
	}
	if c.PreRoll < 0 {
		c.PreRoll = 0
	} else if c.PreRoll == 0 {
		c.PreRoll = def.PreRoll
	}
	if c.FrameSize <= 0 {
		c.FrameSize = def.FrameSize
	}
	return c
}

// frames converts d to a whole number of frames, rounding up.
func (c Config) frames(d time.Duration) int {
	per := pcm.Mono16K.Duration(c.FrameSize)
	return int((d + per - 1) / per)
}
