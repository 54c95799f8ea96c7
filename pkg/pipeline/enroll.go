package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/haivivi/voxid/pkg/audio/pcm"
	"github.com/haivivi/voxid/pkg/audio/source"
	"github.com/haivivi/voxid/pkg/buffer"
	"github.com/haivivi/voxid/pkg/vad"
	"github.com/haivivi/voxid/pkg/voiceprint"
)

// Enroll segments src with the VAD and returns one embedding per speech
// segment, in order. Only the VAD, Features and Embedder components are
// used. Segments without signal are skipped.
func Enroll(ctx context.Context, src source.Source, c Components, cfg vad.Config) ([][]float32, error) {
	if c.VAD == nil || c.Features == nil || c.Embedder == nil {
		return nil, errors.New("pipeline: enroll requires vad, features and embedder")
	}
	q := buffer.NewQueue[pcm.Frame](DefaultQueueSize, buffer.Block)
	if err := src.Start(func(f pcm.Frame) { q.Push(f) }); err != nil {
		return nil, fmt.Errorf("pipeline: start source: %w", err)
	}
	go func() {
		select {
		case <-src.Done():
		case <-ctx.Done():
			src.Stop()
		}
		q.CloseWrite()
	}()

	var (
		m    = vad.NewMachine(cfg)
		st   vad.State
		embs [][]float32
		err  error
	)
	embed := func(seg vad.Segment) {
		if err != nil {
			return
		}
		t := c.Features.EmbeddingTensor(c.Features.Compute(seg.Samples))
		emb, eerr := c.Embedder.Embed(ctx, t)
		switch {
		case errors.Is(eerr, voiceprint.ErrNoSignal):
		case eerr != nil:
			err = fmt.Errorf("pipeline: enroll segment at %v: %w", seg.Start, eerr)
		default:
			embs = append(embs, emb)
		}
	}
	for {
		f, qerr := q.Next()
		if qerr != nil {
			break
		}
		prob, next, serr := c.VAD.Score(ctx, f, st)
		if serr != nil {
			prob = 0
		} else {
			st = next
		}
		if seg, ok := m.Push(f, prob); ok {
			embed(seg)
		}
	}
	if seg, ok := m.Flush(); ok {
		embed(seg)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if serr := src.Err(); serr != nil {
		return nil, fmt.Errorf("pipeline: source: %w", serr)
	}
	return embs, err
}
