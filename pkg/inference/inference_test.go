package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type fakeModel struct {
	tag    float32
	delay  time.Duration
	runs   atomic.Int32
	closed atomic.Bool
}

func (m *fakeModel) Run(_ context.Context, inputs []Tensor) ([]Tensor, error) {
	m.runs.Add(1)
	time.Sleep(m.delay)
	return []Tensor{NewFloat("out", []int64{1}, []float32{m.tag})}, nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

type fakeRuntime struct {
	model   *fakeModel
	loadErr error
	loads   atomic.Int32
}

func (r *fakeRuntime) Load(ModelSpec) (Model, error) {
	r.loads.Add(1)
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.model, nil
}

func (r *fakeRuntime) Close() error { return nil }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func asrSpec() ModelSpec {
	return ModelSpec{
		Name:   "asr",
		Inputs: []string{"x"},
		Shapes: map[string][][]int64{"x": {{1, 150, 560}, {1, 250, 560}}},
	}
}

func input(frames int64) []Tensor {
	return []Tensor{NewFloat("", []int64{1, frames, 560}, make([]float32, frames*560))}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"native": Native, "portable": Portable, "": Native} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("gpu"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestTensorValidate(t *testing.T) {
	if err := NewFloat("a", []int64{2, 3}, make([]float32, 6)).Validate(); err != nil {
		t.Error(err)
	}
	if err := NewFloat("a", []int64{2, 3}, make([]float32, 5)).Validate(); err == nil {
		t.Error("expected error for short data")
	}
	if err := NewInt64("sr", nil, []int64{16000}).Validate(); err == nil {
		t.Error("expected error for missing shape")
	}
	if got := NewInt32("n", []int64{2}, []int64{3, 4}).AsFloat(); got[1] != 4 {
		t.Errorf("AsFloat = %v", got)
	}
}

func TestNativeRejectsUndeclaredShape(t *testing.T) {
	rt := &fakeRuntime{model: &fakeModel{tag: 1}}
	b := NewNative(rt, Options{Logger: quiet})
	m, err := b.Load(asrSpec())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Run(context.Background(), input(250)); err != nil {
		t.Fatalf("declared shape: %v", err)
	}
	if _, err := m.Run(context.Background(), input(300)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("undeclared shape: %v, want ErrShapeMismatch", err)
	}

	p := NewPortable(&fakeRuntime{model: &fakeModel{tag: 2}}, Options{Logger: quiet})
	pm, _ := p.Load(asrSpec())
	if _, err := pm.Run(context.Background(), input(300)); err != nil {
		t.Fatalf("portable should accept any shape: %v", err)
	}
}

func TestSessionFallsBackOnShapeMismatch(t *testing.T) {
	native := &fakeModel{tag: 1}
	portable := &fakeModel{tag: 2}
	portableRT := &fakeRuntime{model: portable}
	s := NewSession(
		NewNative(&fakeRuntime{model: native}, Options{Logger: quiet}),
		NewPortable(portableRT, Options{Logger: quiet}),
		quiet,
	)

	m, err := s.Load(asrSpec())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	out, err := m.Run(ctx, input(150))
	if err != nil || out[0].Floats[0] != 1 {
		t.Fatalf("first run = %v, %v; want native", out, err)
	}
	out, err = m.Run(ctx, input(400))
	if err != nil || out[0].Floats[0] != 2 {
		t.Fatalf("mismatched run = %v, %v; want portable", out, err)
	}
	if KindOf(m) != Portable {
		t.Errorf("KindOf = %v, want portable", KindOf(m))
	}
	if !native.closed.Load() {
		t.Error("native model should be closed after fallback")
	}

	// The rest of the session stays on the portable backend.
	out, _ = m.Run(ctx, input(150))
	if out[0].Floats[0] != 2 {
		t.Error("session returned to native backend")
	}
	if portableRT.loads.Load() != 1 {
		t.Errorf("portable loads = %d, want 1", portableRT.loads.Load())
	}
}

func TestSessionWithoutFallback(t *testing.T) {
	s := NewSession(NewNative(&fakeRuntime{model: &fakeModel{}}, Options{Logger: quiet}), nil, quiet)
	m, _ := s.Load(asrSpec())
	if _, err := m.Run(context.Background(), input(400)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
	if s.Kind() != Native {
		t.Errorf("Kind = %v", s.Kind())
	}
}

func TestLoadError(t *testing.T) {
	boom := errors.New("no such file")
	b := NewNative(&fakeRuntime{loadErr: boom}, Options{Logger: quiet})
	if _, err := b.Load(asrSpec()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	slow := &fakeModel{delay: 300 * time.Millisecond}
	b := NewPortable(&fakeRuntime{model: slow}, Options{Logger: quiet})
	m, _ := b.Load(asrSpec())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := m.Run(ctx, input(150))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if el := time.Since(start); el > 200*time.Millisecond {
		t.Errorf("Run waited %v for the slow call", el)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if _, err := m.Run(ctx, input(150)); errors.Is(err, ErrTimeout) || !errors.Is(err, context.Canceled) {
		t.Errorf("canceled run: %v", err)
	}
}

func TestClosedModel(t *testing.T) {
	fm := &fakeModel{}
	m, _ := NewPortable(&fakeRuntime{model: fm}, Options{Logger: quiet}).Load(asrSpec())
	m.Close()
	m.Close()
	if !fm.closed.Load() {
		t.Error("runtime model not closed")
	}
	if _, err := m.Run(context.Background(), input(150)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestModelSpecPaths(t *testing.T) {
	dir := t.TempDir()
	spec := ModelSpec{Name: "vad", Dir: dir}
	if got := spec.ONNXPath(); got != filepath.Join(dir, "vad.onnx") {
		t.Errorf("ONNXPath = %s", got)
	}
	param, bin := spec.NCNNPaths()
	if filepath.Base(param) != "vad.ncnn.param" || filepath.Base(bin) != "vad.ncnn.bin" {
		t.Errorf("NCNNPaths = %s, %s", param, bin)
	}

	if err := spec.Available(Portable); err == nil {
		t.Error("expected error before artifacts exist")
	}
	os.WriteFile(spec.ONNXPath(), []byte("x"), 0o644)
	if err := spec.Available(Portable); err != nil {
		t.Error(err)
	}
	os.WriteFile(param, []byte("x"), 0o644)
	if err := spec.Available(Native); err == nil {
		t.Error("expected error with .bin missing")
	}
}

// blockingModel stays inside Run until release is closed and records
// whether Close arrived while a run was still executing.
type blockingModel struct {
	release     chan struct{}
	running     atomic.Int32
	closed      atomic.Bool
	closedEarly atomic.Bool
}

func (m *blockingModel) Run(context.Context, []Tensor) ([]Tensor, error) {
	m.running.Add(1)
	defer m.running.Add(-1)
	<-m.release
	return []Tensor{NewFloat("out", []int64{1}, []float32{0})}, nil
}

func (m *blockingModel) Close() error {
	if m.running.Load() > 0 {
		m.closedEarly.Store(true)
	}
	m.closed.Store(true)
	return nil
}

type modelRuntime struct {
	m      Model
	closed atomic.Bool
}

func (r *modelRuntime) Load(ModelSpec) (Model, error) { return r.m, nil }
func (r *modelRuntime) Close() error                  { r.closed.Store(true); return nil }

func timedOutRun(t *testing.T, m Model) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Run(ctx, input(150)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestCloseWaitsForTimedOutRun(t *testing.T) {
	bm := &blockingModel{release: make(chan struct{})}
	rt := &modelRuntime{m: bm}
	b := NewPortable(rt, Options{Logger: quiet, CloseWait: 2 * time.Second})
	m, _ := b.Load(asrSpec())

	timedOutRun(t, m)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(bm.release)
	}()
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bm.closedEarly.Load() {
		t.Fatal("runtime model closed while a run was executing")
	}
	if !bm.closed.Load() {
		t.Fatal("runtime model not closed")
	}
	if err := b.Close(); err != nil || !rt.closed.Load() {
		t.Fatalf("backend Close = %v, runtime closed = %v", err, rt.closed.Load())
	}
}

func TestCloseGivesUpOnStuckRun(t *testing.T) {
	bm := &blockingModel{release: make(chan struct{})}
	rt := &modelRuntime{m: bm}
	b := NewNative(rt, Options{Logger: quiet, CloseWait: 20 * time.Millisecond})
	m, _ := b.Load(asrSpec())

	timedOutRun(t, m)
	if err := m.Close(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Close = %v, want ErrBusy", err)
	}
	if err := b.Close(); !errors.Is(err, ErrBusy) {
		t.Fatalf("backend Close = %v, want ErrBusy", err)
	}
	if bm.closed.Load() || rt.closed.Load() {
		t.Fatal("runtime released under a running call")
	}
	if _, err := m.Run(context.Background(), input(150)); !errors.Is(err, ErrClosed) {
		t.Errorf("run after close = %v, want ErrClosed", err)
	}

	close(bm.release)
	deadline := time.Now().Add(2 * time.Second)
	for !bm.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("runtime model never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if bm.closedEarly.Load() {
		t.Fatal("runtime model closed while a run was executing")
	}
	if err := b.Close(); err != nil || !rt.closed.Load() {
		t.Fatalf("backend Close = %v, runtime closed = %v", err, rt.closed.Load())
	}
}
