package vad

import (
	"slices"
	"time"

	"github.com/haivivi/voxid/pkg/audio/pcm"
)

// Phase is the Machine's state.
type Phase int

const (
	Silence Phase = iota
	Speech
)

func (p Phase) String() string {
	if p == Speech {
		return "speech"
	}
	return "silence"
}

// Machine cuts segments from per-frame speech probabilities. It is not
// safe for concurrent use; use one per stream.
type Machine struct {
	cfg Config

	minSpeech  int
	hangover   int
	preRoll    int
	maxSamples int

	phase Phase
	pos   int // samples consumed

	// Silence: recent frames for pre-roll, and the current run of
	// speech frames.
	history [][]float32
	onset   [][]float32

	// Speech: the open segment.
	seg      []float32
	segStart int
	quiet    int
}

// NewMachine returns a Machine in Silence at stream position zero.
// Zero fields of cfg take DefaultConfig values.
func NewMachine(cfg Config) *Machine {
	cfg = cfg.withDefaults()
	return &Machine{
		cfg:        cfg,
		minSpeech:  max(cfg.frames(cfg.MinSpeech), 1),
		hangover:   max(cfg.frames(cfg.Hangover), 1),
		preRoll:    int(cfg.PreRoll / pcm.Mono16K.Duration(cfg.FrameSize)),
		maxSamples: pcm.Mono16K.SamplesInDuration(cfg.MaxSegment),
	}
}

// Config returns the effective configuration.
func (m *Machine) Config() Config { return m.cfg }

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Position returns the stream offset of the next frame.
func (m *Machine) Position() time.Duration { return pcm.Mono16K.Duration(m.pos) }

// Push consumes one frame and its speech probability. It returns the
// segment closed by this frame, if any.
func (m *Machine) Push(frame []float32, prob float32) (Segment, bool) {
	start := m.pos
	m.pos += len(frame)

	if m.phase == Silence {
		// Held across calls for pre-roll.
		frame = slices.Clone(frame)
		if prob < m.cfg.Threshold {
			m.remember(m.onset...)
			m.onset = m.onset[:0]
			m.remember(frame)
			return Segment{}, false
		}
		m.onset = append(m.onset, frame)
		if len(m.onset) < m.minSpeech {
			return Segment{}, false
		}

		// Open a segment covering pre-roll and the onset run.
		onsetStart := start - (len(m.onset)-1)*len(frame)
		m.segStart = onsetStart
		m.seg = m.seg[:0]
		for _, h := range m.history {
			m.seg = append(m.seg, h...)
			m.segStart -= len(h)
		}
		for _, f := range m.onset {
			m.seg = append(m.seg, f...)
		}
		m.history = m.history[:0]
		m.onset = m.onset[:0]
		m.quiet = 0
		m.phase = Speech
		return m.force()
	}

	m.seg = append(m.seg, frame...)
	if prob < m.cfg.NegThreshold {
		m.quiet++
	} else {
		m.quiet = 0
	}
	if m.quiet >= m.hangover {
		m.phase = Silence
		m.quiet = 0
		return m.close()
	}
	return m.force()
}

// force closes the open segment when it reaches MaxSegment. The machine
// stays in Speech and the next frame starts a new segment.
func (m *Machine) force() (Segment, bool) {
	if len(m.seg) < m.maxSamples {
		return Segment{}, false
	}
	return m.close()
}

// close emits the open segment if it is long enough and starts a new,
// empty one at the current position.
func (m *Machine) close() (Segment, bool) {
	seg := Segment{
		Start:   pcm.Mono16K.Duration(m.segStart),
		End:     pcm.Mono16K.Duration(m.segStart + len(m.seg)),
		Samples: append([]float32(nil), m.seg...),
	}
	m.seg = m.seg[:0]
	m.segStart = m.pos
	if seg.Duration() < m.cfg.MinSegment || len(seg.Samples) == 0 {
		return Segment{}, false
	}
	return seg, true
}

func (m *Machine) remember(frames ...[]float32) {
	if m.preRoll <= 0 {
		return
	}
	m.history = append(m.history, frames...)
	if over := len(m.history) - m.preRoll; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
}

// Flush closes any open segment at end of stream and returns the
// machine to Silence.
func (m *Machine) Flush() (Segment, bool) {
	if m.phase != Speech {
		m.onset = m.onset[:0]
		return Segment{}, false
	}
	m.phase = Silence
	m.quiet = 0
	return m.close()
}

// Reset returns the machine to Silence at stream position zero.
func (m *Machine) Reset() {
	m.phase = Silence
	m.pos = 0
	m.history = m.history[:0]
	m.onset = m.onset[:0]
	m.seg = m.seg[:0]
	m.segStart = 0
	m.quiet = 0
}
