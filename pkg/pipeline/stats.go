package pipeline

import (
	"time"
)

// Stats summarises a session.
type Stats struct {
	SessionID string `json:"session_id"`

	Frames  uint64 `json:"frames"`
	Dropped uint64 `json:"dropped"`

	// Segments closed by the VAD, and what became of them.
	Segments int `json:"segments"`
	Emitted  int `json:"emitted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Learned  int `json:"learned"`

	VADErrors int `json:"vad_errors,omitempty"`

	// Audio is the length of audio consumed.
	Audio time.Duration `json:"audio"`

	// Per-stage busy time summed over segments. ASR and Embedding overlap.
	Features   time.Duration `json:"features"`
	ASR        time.Duration `json:"asr"`
	Embedding  time.Duration `json:"embedding"`
	Processing time.Duration `json:"processing"`

	// Interrupted is set when the session ended by cancellation or drain
	// timeout rather than end of input.
	Interrupted bool `json:"interrupted,omitempty"`
}

// RTF is the real-time factor: processing time over audio time. Values
// below one keep up with live input.
func (s *Stats) RTF() float64 {
	if s.Audio <= 0 {
		return 0
	}
	return s.Processing.Seconds() / s.Audio.Seconds()
}
