package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCloseWait bounds how long Close waits for runs that outlived
// their deadline.
const DefaultCloseWait = 5 * time.Second

// Options configures a Backend.
type Options struct {
	Logger *slog.Logger

	// CloseWait bounds how long Model.Close and Backend.Close wait for
	// runs still executing in the runtime. Zero means DefaultCloseWait.
	CloseWait time.Duration
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) closeWait() time.Duration {
	if o.CloseWait <= 0 {
		return DefaultCloseWait
	}
	return o.CloseWait
}

type backend struct {
	kind Kind
	rt   Runtime
	log  *slog.Logger
	wait time.Duration

	// pending counts closed models whose runtime release waits on a run.
	pending *sync.WaitGroup
}

func newBackend(kind Kind, rt Runtime, opts Options) backend {
	return backend{kind: kind, rt: rt, log: opts.logger(), wait: opts.closeWait(), pending: new(sync.WaitGroup)}
}

func (b *backend) sealed()    {}
func (b *backend) Kind() Kind { return b.kind }

// Close releases the runtime once every closed model is released. When a
// run is still stuck after the wait, the runtime is left open.
func (b *backend) Close() error {
	if !waitTimeout(b.pending, b.wait) {
		b.log.Error("inference: runtime left open, models still running", "backend", b.kind, "wait", b.wait)
		return fmt.Errorf("%w: %s backend", ErrBusy, b.kind)
	}
	return b.rt.Close()
}

func (b *backend) guard(spec ModelSpec, m Model, checkShapes bool) *guarded {
	return &guarded{spec: spec, kind: b.kind, m: m, checkShapes: checkShapes, owner: b}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

type nativeBackend struct{ backend }

// NewNative returns the native backend over rt, normally an ncnn runtime.
// Models declared with Shapes reject any other input shape with
// ErrShapeMismatch.
func NewNative(rt Runtime, opts Options) Backend {
	return &nativeBackend{newBackend(Native, rt, opts)}
}

func (b *nativeBackend) Load(spec ModelSpec) (Model, error) {
	start := time.Now()
	m, err := b.rt.Load(spec)
	if err != nil {
		return nil, fmt.Errorf("inference: native load %s: %w", spec.Name, err)
	}
	b.log.Info("inference: model loaded", "backend", Native, "model", spec.Name,
		"fp16", !spec.NoFP16, "elapsed", time.Since(start))
	return b.guard(spec, m, true), nil
}

type portableBackend struct{ backend }

// NewPortable returns the portable backend over rt, normally an ONNX
// Runtime runtime.
func NewPortable(rt Runtime, opts Options) Backend {
	return &portableBackend{newBackend(Portable, rt, opts)}
}

func (b *portableBackend) Load(spec ModelSpec) (Model, error) {
	start := time.Now()
	m, err := b.rt.Load(spec)
	if err != nil {
		return nil, fmt.Errorf("inference: portable load %s: %w", spec.Name, err)
	}
	b.log.Info("inference: model loaded", "backend", Portable, "model", spec.Name,
		"elapsed", time.Since(start))
	return b.guard(spec, m, false), nil
}

// guarded adds input validation, shape checks and context handling to a
// runtime model. Runs that time out keep a reference on the runtime model
// until they return; the last one releases it if Close came first.
type guarded struct {
	spec        ModelSpec
	kind        Kind
	m           Model
	checkShapes bool
	owner       *backend

	mu       sync.Mutex
	running  int
	closed   bool
	deferred bool
	released chan struct{}
	closeErr error
}

func (g *guarded) Run(ctx context.Context, inputs []Tensor) ([]Tensor, error) {
	for _, t := range inputs {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	if g.checkShapes {
		if err := g.spec.checkShapes(inputs); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, contextErr(g.spec.Name, err)
	}
	if err := g.acquire(); err != nil {
		return nil, err
	}
	return runContext(ctx, g.spec.Name, func() ([]Tensor, error) {
		defer g.done()
		return g.m.Run(context.WithoutCancel(ctx), inputs)
	})
}

func (g *guarded) acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	g.running++
	return nil
}

func (g *guarded) done() {
	g.mu.Lock()
	g.running--
	last := g.deferred && g.running == 0
	g.mu.Unlock()
	if last {
		g.release()
		g.owner.pending.Done()
	}
}

func (g *guarded) release() {
	g.closeErr = g.m.Close()
	close(g.released)
}

// Close unloads the model. With a run still inside the runtime, the
// release is deferred to that run and Close waits for it up to the
// backend's CloseWait.
func (g *guarded) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.released = make(chan struct{})
	busy := g.running > 0
	if busy {
		g.deferred = true
		g.owner.pending.Add(1)
	}
	g.mu.Unlock()

	if !busy {
		g.release()
		return g.closeErr
	}
	g.owner.log.Warn("inference: model still running, deferring close", "model", g.spec.Name)
	t := time.NewTimer(g.owner.wait)
	defer t.Stop()
	select {
	case <-g.released:
		return g.closeErr
	case <-t.C:
		g.owner.log.Error("inference: model release left to running call", "model", g.spec.Name, "wait", g.owner.wait)
		return fmt.Errorf("%w: %s", ErrBusy, g.spec.Name)
	}
}

// runContext runs fn and returns early with ErrTimeout when ctx's
// deadline passes first. fn keeps running to completion in the
// background; its result is discarded.
func runContext(ctx context.Context, name string, fn func() ([]Tensor, error)) ([]Tensor, error) {
	if ctx.Done() == nil {
		return fn()
	}

	type result struct {
		out []Tensor
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := fn()
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return nil, contextErr(name, ctx.Err())
	}
}

func contextErr(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, name)
	}
	return fmt.Errorf("inference: %s: %w", name, err)
}
