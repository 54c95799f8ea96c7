package pipeline

import (
	"fmt"
	"time"

	"github.com/haivivi/voxid/pkg/jsontime"
	"github.com/haivivi/voxid/pkg/speaker"
)

// Event is one transcribed segment. Events are values: once emitted they
// are never changed by the pipeline.
type Event struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`

	// Speaker is the identified speaker, empty when unknown.
	Speaker string `json:"speaker,omitempty"`

	// Label is the display label: the speaker name, "Name?" for a medium
	// match, "A/B?" for a conflict or "Unknown".
	Label string `json:"label"`

	Text string `json:"text"`

	// Start and End locate the segment in the session's audio.
	Start jsontime.Seconds `json:"start"`
	End   jsontime.Seconds `json:"end"`

	// Latency is the processing time from segment close to emission.
	Latency jsontime.Seconds `json:"latency"`

	Confidence speaker.Confidence `json:"confidence"`
	Score      float32            `json:"score"`
	Conflict   bool               `json:"conflict,omitempty"`

	// Learned is the placement of the segment's embedding when it was fed
	// back into the speaker's profile.
	Learned string `json:"learned,omitempty"`

	Language string `json:"language,omitempty"`
	Emotion  string `json:"emotion,omitempty"`

	// Failed marks a segment whose transcription timed out or errored.
	// Text is empty.
	Failed bool `json:"failed,omitempty"`

	Time jsontime.Milli `json:"time"`
}

// Duration returns the segment length.
func (e Event) Duration() time.Duration {
	return e.End.Duration() - e.Start.Duration()
}

// Known reports whether the speaker was identified.
func (e Event) Known() bool { return e.Speaker != "" }

// String formats e as a transcript line.
func (e Event) String() string {
	text := e.Text
	if e.Failed {
		text = "(transcription failed)"
	}
	return fmt.Sprintf("[%s] (%.1fs-%.1fs) %s", e.Label, e.Start.Duration().Seconds(), e.End.Duration().Seconds(), text)
}

// Record is an emitted event together with the embedding it was matched
// by. Records feed the post-session helpers.
type Record struct {
	Event     Event
	Embedding []float32

	// Cluster is the session-local label assigned by ClusterUnknowns.
	Cluster string
}
