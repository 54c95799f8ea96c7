// Package asr transcribes speech segments with a CTC recognition model
// (SenseVoice).
//
// The model takes one LFR feature tensor [1, T, 560] and returns
// per-frame logits over the vocabulary. Decoding is greedy: the argmax
// of each frame, repeats collapsed, blank (id 0) dropped. Long segments
// arrive as overlapping chunks; tokens that the chunks share at their
// seam are kept once.
package asr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/haivivi/voxid/pkg/features"
	"github.com/haivivi/voxid/pkg/inference"
)

// Blank is the CTC blank id.
const Blank = 0

// Spec returns the model spec for the recognizer named "asr" in dir.
// The native model is built for one input shape per bucket.
func Spec(dir string, kind inference.Kind, buckets []int, dim int) inference.ModelSpec {
	spec := inference.ModelSpec{
		Name:    "asr",
		Dir:     dir,
		Inputs:  []string{"mel_lfr"},
		Outputs: []string{"logits"},
	}
	if kind == inference.Native {
		spec.Inputs = []string{"in0"}
		spec.Outputs = []string{"out0"}
	}
	shapes := make([][]int64, 0, len(buckets))
	for _, b := range buckets {
		shapes = append(shapes, []int64{1, int64(b), int64(dim)})
	}
	spec.Shapes = map[string][][]int64{spec.Inputs[0]: shapes}
	return spec
}

// Config configures an Engine.
type Config struct {
	// LFRM and LFRN describe how tensors were stacked, used to measure
	// chunk overlap. Zero means 7 and 6.
	LFRM int
	LFRN int

	Logger *slog.Logger
}

// Result is the transcription of one segment.
type Result struct {
	Text string `json:"text"`

	// Tag values read from the model's leading control tokens.
	Language string `json:"language,omitempty"`
	Emotion  string `json:"emotion,omitempty"`
	Event    string `json:"event,omitempty"`

	// Tokens are the merged non-control token ids.
	Tokens []int `json:"-"`
	Chunks int   `json:"chunks"`
}

// Engine runs the recognizer. It is safe for concurrent use if the
// model is.
type Engine struct {
	model inference.Model
	vocab *Vocab
	m, n  int
	log   *slog.Logger
}

// NewEngine returns an Engine decoding m's output with vocab.
func NewEngine(m inference.Model, vocab *Vocab, cfg Config) *Engine {
	e := &Engine{model: m, vocab: vocab, m: cfg.LFRM, n: cfg.LFRN, log: cfg.Logger}
	if e.m <= 0 {
		e.m = 7
	}
	if e.n <= 0 {
		e.n = 6
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Transcribe decodes the chunks of one segment, in order.
func (e *Engine) Transcribe(ctx context.Context, tensors []features.Tensor) (Result, error) {
	var (
		res    = Result{Chunks: len(tensors)}
		merged []token
		prev   *features.Tensor
	)
	for i := range tensors {
		t := &tensors[i]
		toks, err := e.decodeChunk(ctx, t)
		if err != nil {
			return Result{}, fmt.Errorf("asr: chunk %d: %w", i, err)
		}

		var text []token
		for _, tk := range toks {
			if e.vocab.IsSpecial(tk.id) {
				if i == 0 {
					res.tag(e.vocab.Piece(tk.id))
				}
				continue
			}
			text = append(text, tk)
		}

		if prev != nil {
			bound := e.overlapFrames(prev, t)
			n := overlapTokens(merged, text, bound)
			if n > 0 {
				e.log.Debug("asr: merged chunk seam", "chunk", i, "tokens", n)
			}
			text = text[n:]
		}
		merged = append(merged, text...)
		prev = t
	}

	res.Tokens = make([]int, len(merged))
	for i, tk := range merged {
		res.Tokens[i] = tk.id
	}
	res.Text = e.vocab.Decode(res.Tokens)
	return res, nil
}

// token is a decoded id and the input frame it was emitted at.
type token struct {
	id    int
	frame int
}

func (e *Engine) decodeChunk(ctx context.Context, t *features.Tensor) ([]token, error) {
	out, err := e.model.Run(ctx, []inference.Tensor{
		inference.NewFloat("", t.Shape(), t.Data),
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no outputs")
	}
	logits := out[0]
	if len(logits.Shape) < 2 {
		return nil, fmt.Errorf("logits shape %v", logits.Shape)
	}
	vocab := int(logits.Shape[len(logits.Shape)-1])
	data := logits.AsFloat()
	if vocab <= 0 || len(data)%vocab != 0 {
		return nil, fmt.Errorf("logits shape %v with %d values", logits.Shape, len(data))
	}
	frames := len(data) / vocab
	toks := greedy(data, frames, vocab, validOutput(t.Valid, t.Frames, frames))
	// Report input frame positions.
	if shift := frames - t.Frames; shift > 0 {
		for i := range toks {
			toks[i].frame = max(toks[i].frame-shift, 0)
		}
	}
	return toks, nil
}

// validOutput maps the valid input frame count to output frames. Models
// that prepend query frames (SenseVoice adds four) keep a fixed offset;
// subsampling models scale.
func validOutput(valid, in, out int) int {
	switch {
	case in <= 0:
		return out
	case out >= in:
		return min(valid+out-in, out)
	default:
		return min((valid*out+in-1)/in, out)
	}
}

// greedy is CTC best-path decoding over the first valid frames.
func greedy(logits []float32, frames, vocab, valid int) []token {
	var (
		out  []token
		last = -1
	)
	for f := range min(valid, frames) {
		row := logits[f*vocab : (f+1)*vocab]
		best := 0
		for j := 1; j < vocab; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		if best != Blank && best != last {
			out = append(out, token{id: best, frame: f})
		}
		last = best
	}
	return out
}

// overlapFrames returns how many of cur's leading LFR frames repeat
// audio already covered by prev.
func (e *Engine) overlapFrames(prev, cur *features.Tensor) int {
	if prev.Valid == 0 {
		return 0
	}
	prevEnd := prev.Offset + (prev.Valid-1)*e.n + e.m
	shared := prevEnd - cur.Offset
	if shared <= 0 {
		return 0
	}
	return (shared + e.n - 1) / e.n
}

// overlapTokens returns the length of the longest run of leading tokens
// of next equal to the trailing tokens of prev. Only tokens of next that
// fall inside the first bound frames may match.
func overlapTokens(prev, next []token, bound int) int {
	limit := 0
	for limit < len(next) && next[limit].frame < bound {
		limit++
	}
	limit = min(limit, len(prev))
	for n := limit; n > 0; n-- {
		tail := prev[len(prev)-n:]
		match := true
		for i := range n {
			if tail[i].id != next[i].id {
				match = false
				break
			}
		}
		if match {
			return n
		}
	}
	return 0
}

var (
	languages = map[string]bool{
		"zh": true, "en": true, "yue": true, "ja": true, "ko": true,
		"nospeech": true, "auto": true,
	}
	emotions = map[string]bool{
		"NEUTRAL": true, "HAPPY": true, "SAD": true, "ANGRY": true,
		"FEARFUL": true, "DISGUSTED": true, "SURPRISED": true, "EMO_UNKNOWN": true,
	}
	events = map[string]bool{
		"Speech": true, "Applause": true, "BGM": true, "Laughter": true,
		"Cry": true, "Sneeze": true, "Breath": true, "Cough": true,
	}
)

func (r *Result) tag(piece string) {
	name := strings.TrimSuffix(strings.TrimPrefix(piece, "<|"), "|>")
	switch {
	case languages[name] && r.Language == "":
		r.Language = name
	case emotions[name] && r.Emotion == "":
		r.Emotion = name
	case events[name] && r.Event == "":
		r.Event = name
	}
}

// IsValidTranscript reports whether text contains at least one letter
// or digit. Empty and punctuation-only results are noise.
func IsValidTranscript(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
