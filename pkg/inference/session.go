package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Session owns the backend chosen for a pipeline session.
//
// When the primary backend is native and a fallback is configured, a
// model whose run fails with ErrShapeMismatch is reloaded on the
// fallback and used from then on. The switch is logged at error level.
type Session struct {
	primary  Backend
	fallback Backend
	log      *slog.Logger
}

// NewSession returns a Session over primary. fallback may be nil.
func NewSession(primary, fallback Backend, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{primary: primary, fallback: fallback, log: log}
}

// Kind returns the primary backend kind.
func (s *Session) Kind() Kind { return s.primary.Kind() }

// Load loads spec on the primary backend.
func (s *Session) Load(spec ModelSpec) (Model, error) {
	m, err := s.primary.Load(spec)
	if err != nil {
		return nil, err
	}
	if s.fallback == nil || s.primary.Kind() != Native {
		return m, nil
	}
	return &fallbackModel{s: s, spec: spec, cur: m, kind: Native}, nil
}

// Close closes both backends.
func (s *Session) Close() error {
	err := s.primary.Close()
	if s.fallback != nil {
		err = errors.Join(err, s.fallback.Close())
	}
	return err
}

type fallbackModel struct {
	s    *Session
	spec ModelSpec

	mu   sync.RWMutex
	cur  Model
	kind Kind
}

// Kind returns the backend currently serving the model.
func (f *fallbackModel) Kind() Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.kind
}

func (f *fallbackModel) Run(ctx context.Context, inputs []Tensor) ([]Tensor, error) {
	f.mu.RLock()
	cur, kind := f.cur, f.kind
	f.mu.RUnlock()

	out, err := cur.Run(ctx, inputs)
	if err == nil || kind != Native || !errors.Is(err, ErrShapeMismatch) {
		return out, err
	}

	next, ferr := f.switchToFallback(cur, err)
	if ferr != nil {
		return nil, ferr
	}
	return next.Run(ctx, inputs)
}

func (f *fallbackModel) switchToFallback(failed Model, cause error) (Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur != failed {
		// Another run already switched.
		return f.cur, nil
	}

	f.s.log.Error("inference: native backend rejected input, reloading on portable backend",
		"model", f.spec.Name, "error", cause)
	m, err := f.s.fallback.Load(f.spec)
	if err != nil {
		return nil, fmt.Errorf("inference: fallback for %s: %w (after %v)", f.spec.Name, err, cause)
	}
	if err := failed.Close(); err != nil {
		f.s.log.Warn("inference: close native model", "model", f.spec.Name, "error", err)
	}
	f.cur, f.kind = m, f.s.fallback.Kind()
	return m, nil
}

func (f *fallbackModel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur.Close()
}

// KindOf returns the backend serving m when m came from a Session, or
// the empty Kind.
func KindOf(m Model) Kind {
	switch m := m.(type) {
	case *fallbackModel:
		return m.Kind()
	case *guarded:
		return m.kind
	}
	return ""
}
