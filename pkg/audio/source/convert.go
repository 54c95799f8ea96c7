package source

import (
	"fmt"

	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/audio/resampler"
)

// Converter turns interleaved native-format audio into 16 kHz mono frames.
// It keeps one channel, resamples it and cuts it into fixed-size frames.
// It is not safe for concurrent use.
type Converter struct {
	in      pcm.Format
	channel int
	rs      resampler.Resampler
	framer  *pcm.Framer
}

// NewConverter returns a Converter from format in that calls emit with
// each complete frame.
func NewConverter(in pcm.Format, cfg Config, q resampler.Quality, emit func(pcm.Frame)) (*Converter, error) {
	if !in.Valid() {
		return nil, fmt.Errorf("source: invalid input format %s", in)
	}
	rs, err := resampler.New(in.SampleRate, pcm.SampleRate, q)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	ch := cfg.Channel
	if ch < 0 || ch >= in.Channels {
		ch = 0
	}
	return &Converter{
		in:      in,
		channel: ch,
		rs:      rs,
		framer:  pcm.NewFramer(cfg.frameSize(), emit),
	}, nil
}

// Write consumes interleaved samples. A trailing partial sample frame is
// ignored.
func (c *Converter) Write(interleaved []float32) error {
	mono := pcm.Channel(interleaved, c.in.Channels, c.channel)
	out, err := c.rs.Process(mono)
	if err != nil {
		return fmt.Errorf("source: resample: %w", err)
	}
	c.framer.Write(out)
	return nil
}

// Flush emits the buffered tail as a zero-padded frame.
func (c *Converter) Flush() { c.framer.Flush() }
