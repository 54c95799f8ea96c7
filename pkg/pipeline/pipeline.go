// Package pipeline wires audio, VAD, features, recognition and speaker
// identification into one streaming session.
//
// Frames from a source.Source are copied into a bounded queue on the
// source's goroutine and drained by a single worker. The worker runs the
// VAD, threading its State from call to call, and hands each closed
// segment to feature extraction. Transcription and speaker embedding then
// run in parallel on the same features, each bounded by
// Config.InferenceTimeout. The embedding is matched against the speaker
// library and, when AutoLearn is set, fed back into the matched profile.
//
// Stopping follows a fixed order: the source stops first, the queue is
// closed and drained within Config.DrainTimeout, the library is flushed,
// and finally the Events channel is closed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/voxid/pkg/asr"
	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/audio/source"
	"github.com/haivivi/voxid/pkg/buffer"
	"github.com/haivivi/voxid/pkg/features"
	"github.com/haivivi/voxid/pkg/jsontime"
	"github.com/haivivi/voxid/pkg/speaker"
	"github.com/haivivi/voxid/pkg/vad"
)

// Defaults.
const (
	DefaultQueueSize        = 128 // about four seconds of frames
	DefaultInferenceTimeout = 5 * time.Second
	DefaultDrainTimeout     = 10 * time.Second
	DefaultEventBuffer      = 64
)

var (
	// ErrRunning is returned by Run on a pipeline that already ran.
	ErrRunning = errors.New("pipeline: already running")

	// ErrDrainTimeout ends in-flight work that outlived DrainTimeout.
	ErrDrainTimeout = errors.New("pipeline: drain timed out")
)

// Transcriber turns a segment's ASR tensors into text. *asr.Engine
// implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, tensors []features.Tensor) (asr.Result, error)
}

// Embedder turns a segment's embedding tensor into a speaker embedding.
// *voiceprint.Embedder implements it.
type Embedder interface {
	Embed(ctx context.Context, t features.Tensor) ([]float32, error)
}

// Config is the immutable session configuration.
type Config struct {
	VAD vad.Config `yaml:"vad"`

	// QueueSize bounds the frame queue.
	QueueSize int `yaml:"queue_size,omitempty"`

	// DropWhenFull drops frames instead of blocking the source when the
	// worker falls behind. Set it for live capture.
	DropWhenFull bool `yaml:"drop_when_full,omitempty"`

	InferenceTimeout time.Duration `yaml:"inference_timeout,omitempty"`
	DrainTimeout     time.Duration `yaml:"drain_timeout,omitempty"`

	// AutoLearn feeds confident matches back into speaker profiles.
	AutoLearn bool `yaml:"auto_learn,omitempty"`

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int `yaml:"event_buffer,omitempty"`

	// SessionID names the session; empty means a random UUID.
	SessionID string `yaml:"-"`

	Logger *slog.Logger `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = DefaultInferenceTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Components are the stages a pipeline runs. Embedder and Library are
// optional; without them every event is unknown.
type Components struct {
	VAD      vad.Scorer
	Features *features.Extractor
	ASR      Transcriber
	Embedder Embedder
	Library  *speaker.Library
}

// Pipeline runs one session.
type Pipeline struct {
	cfg    Config
	c      Components
	log    *slog.Logger
	events chan Event

	running atomic.Bool
	frames  atomic.Uint64
	samples atomic.Uint64

	// Worker-owned.
	stats   Stats
	seq     int
	mu      sync.Mutex
	records []Record
}

// New returns a pipeline ready to Run.
func New(cfg Config, c Components) (*Pipeline, error) {
	if c.VAD == nil || c.Features == nil || c.ASR == nil {
		return nil, fmt.Errorf("pipeline: VAD, Features and ASR are required")
	}
	if (c.Embedder == nil) != (c.Library == nil) {
		return nil, fmt.Errorf("pipeline: Embedder and Library must be set together")
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:    cfg,
		c:      c,
		log:    cfg.Logger.With("session", cfg.SessionID),
		events: make(chan Event, cfg.EventBuffer),
		stats:  Stats{SessionID: cfg.SessionID},
	}, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// SessionID returns the session ID stamped on every event.
func (p *Pipeline) SessionID() string { return p.cfg.SessionID }

// Events returns the transcript stream. It is closed when Run returns.
// Callers must keep reading it; a full channel stalls the worker.
func (p *Pipeline) Events() <-chan Event { return p.events }

// Records returns the events emitted so far with their embeddings.
func (p *Pipeline) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.records...)
}

// Run processes src until it ends or ctx is cancelled. A pipeline runs
// once. Cancellation is a normal way to end a live session: Run drains
// and returns the stats with Interrupted set and a nil error.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (*Stats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer close(p.events)

	policy := buffer.Block
	if p.cfg.DropWhenFull {
		policy = buffer.DropWhenFull
	}
	q := buffer.NewQueue[pcm.Frame](p.cfg.QueueSize, policy)

	if err := src.Start(func(f pcm.Frame) { p.onFrame(q, f) }); err != nil {
		return nil, fmt.Errorf("pipeline: start source: %w", err)
	}
	p.log.Info("pipeline: session started", "queue", p.cfg.QueueSize, "policy", policy.String())

	// Inference outlives ctx so queued audio is still processed after a
	// cancel; workCancel bounds it.
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer workCancel()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		p.work(workCtx, q)
	}()

	interrupted := false
	select {
	case <-src.Done():
	case <-ctx.Done():
		interrupted = true
	}

	// 1. Stop capture.
	if err := src.Stop(); err != nil {
		p.log.Warn("pipeline: stop source", "err", err)
	}
	// 2. Drain queued frames and in-flight inference.
	q.CloseWrite()
	timer := time.NewTimer(p.cfg.DrainTimeout)
	select {
	case <-workerDone:
		timer.Stop()
	case <-timer.C:
		p.log.Error("pipeline: drain timed out, abandoning queued audio", "timeout", p.cfg.DrainTimeout, "queued", q.Len())
		q.CloseWithError(ErrDrainTimeout)
		workCancel()
		<-workerDone
		interrupted = true
	}
	// 3. Persist.
	if p.c.Library != nil && p.c.Library.Dirty() {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainTimeout)
		if err := p.c.Library.Flush(fctx); err != nil {
			p.log.Error("pipeline: flush library", "err", err)
		}
		cancel()
	}

	st := p.stats
	st.Frames = p.frames.Load()
	st.Dropped = q.Dropped()
	st.Audio = pcm.Mono16K.Duration(int(p.samples.Load()))
	st.Interrupted = interrupted
	p.log.Info("pipeline: session ended",
		"segments", st.Segments, "emitted", st.Emitted, "dropped", st.Dropped,
		"audio", st.Audio, "rtf", fmt.Sprintf("%.3f", st.RTF()))

	if err := src.Err(); err != nil {
		return &st, fmt.Errorf("pipeline: source: %w", err)
	}
	return &st, nil
}

// onFrame runs on the source's goroutine.
func (p *Pipeline) onFrame(q *buffer.Queue[pcm.Frame], f pcm.Frame) {
	p.frames.Add(1)
	p.samples.Add(uint64(len(f)))
	ok, err := q.Push(f)
	if ok || err != nil {
		return
	}
	if n := q.Dropped(); n == 1 || n%100 == 0 {
		p.log.Warn("pipeline: worker behind, dropping frames", "dropped", n)
	}
}

func (p *Pipeline) work(ctx context.Context, q *buffer.Queue[pcm.Frame]) {
	m := vad.NewMachine(p.cfg.VAD)
	var st vad.State
	for {
		f, err := q.Next()
		if err != nil {
			if !errors.Is(err, buffer.ErrDone) {
				return
			}
			break
		}
		prob, next, err := p.score(ctx, f, st)
		if err != nil {
			p.stats.VADErrors++
			if p.stats.VADErrors == 1 || p.stats.VADErrors%100 == 0 {
				p.log.Warn("pipeline: vad", "err", err, "errors", p.stats.VADErrors)
			}
			prob = 0
		} else {
			st = next
		}
		if seg, ok := m.Push(f, prob); ok {
			p.process(ctx, seg)
		}
	}
	if seg, ok := m.Flush(); ok {
		p.process(ctx, seg)
	}
}

func (p *Pipeline) score(ctx context.Context, f pcm.Frame, st vad.State) (float32, vad.State, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.InferenceTimeout)
	defer cancel()
	return p.c.VAD.Score(ctx, f, st)
}

// process turns one segment into at most one event.
func (p *Pipeline) process(ctx context.Context, seg vad.Segment) {
	p.stats.Segments++
	begin := time.Now()

	feats := p.c.Features.Compute(seg.Samples)
	if len(feats.Frames) == 0 {
		p.stats.Skipped++
		return
	}
	asrIn := p.c.Features.ASRTensors(feats)
	var embIn features.Tensor
	if p.c.Embedder != nil {
		embIn = p.c.Features.EmbeddingTensor(feats)
	}
	p.stats.Features += time.Since(begin)

	var (
		wg      sync.WaitGroup
		res     asr.Result
		asrErr  error
		asrTook time.Duration
		emb     []float32
		embErr  error
		embTook time.Duration
		match   = speaker.Match{Confidence: speaker.Low}
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ictx, cancel := context.WithTimeout(ctx, p.cfg.InferenceTimeout)
		defer cancel()
		t0 := time.Now()
		res, asrErr = p.c.ASR.Transcribe(ictx, asrIn)
		asrTook = time.Since(t0)
	}()
	if p.c.Embedder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ictx, cancel := context.WithTimeout(ctx, p.cfg.InferenceTimeout)
			defer cancel()
			t0 := time.Now()
			emb, embErr = p.c.Embedder.Embed(ictx, embIn)
			if embErr == nil {
				match = p.c.Library.Match(emb)
			}
			embTook = time.Since(t0)
		}()
	}
	wg.Wait()
	p.stats.ASR += asrTook
	p.stats.Embedding += embTook

	if embErr != nil {
		p.log.Warn("pipeline: embedding", "start", seg.Start, "err", embErr)
		emb = nil
	}
	failed := asrErr != nil
	if failed {
		p.stats.Failed++
		p.log.Error("pipeline: transcription failed", "start", seg.Start, "end", seg.End, "err", asrErr)
		res = asr.Result{}
	} else if !asr.IsValidTranscript(res.Text) {
		p.stats.Skipped++
		p.log.Debug("pipeline: no speech in segment", "start", seg.Start, "text", res.Text)
		p.stats.Processing += time.Since(begin)
		return
	}

	ev := Event{
		ID:         uuid.NewString(),
		SessionID:  p.cfg.SessionID,
		Seq:        p.seq,
		Speaker:    match.Speaker,
		Label:      match.Label(),
		Text:       res.Text,
		Start:      jsontime.Seconds(seg.Start),
		End:        jsontime.Seconds(seg.End),
		Confidence: match.Confidence,
		Score:      match.Score,
		Conflict:   match.Conflict,
		Language:   res.Language,
		Emotion:    res.Emotion,
		Failed:     failed,
	}
	p.seq++

	if p.cfg.AutoLearn && emb != nil && !failed {
		if pl := p.c.Library.Learn(emb, match); pl != speaker.Rejected {
			ev.Learned = pl.String()
			p.stats.Learned++
			p.flush(ctx)
		}
	}

	p.stats.Processing += time.Since(begin)
	ev.Latency = jsontime.Seconds(time.Since(begin))
	ev.Time = jsontime.NowMilli()

	p.mu.Lock()
	p.records = append(p.records, Record{Event: ev, Embedding: emb})
	p.mu.Unlock()

	select {
	case p.events <- ev:
		p.stats.Emitted++
	case <-ctx.Done():
		p.log.Warn("pipeline: event dropped at shutdown", "seq", ev.Seq)
	}
}

func (p *Pipeline) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.InferenceTimeout)
	defer cancel()
	if err := p.c.Library.Flush(ctx); err != nil {
		p.log.Error("pipeline: flush library", "err", err)
	}
}
