package speaker

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/haivivi/voxid/pkg/vecmath"
)

func TestMatchEmptyLibrary(t *testing.T) {
	lib := NewLibrary(Config{}, nil)
	m := lib.Match([]float32{1, 0, 0})
	if m.Known() || m.Confidence != Low {
		t.Fatalf("match = %+v, want unknown/low", m)
	}
	if m.Label() != "Unknown" {
		t.Errorf("label = %q", m.Label())
	}
}

func TestMatchPhases(t *testing.T) {
	lib := NewLibrary(Config{}, nil)
	if _, err := lib.AddSpeaker("alice", axis(8, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.AddSpeaker("bob", axis(8, 4)); err != nil {
		t.Fatal(err)
	}
	// Give alice a boundary embedding pointing elsewhere.
	if pl, err := lib.AddEmbedding("alice", axis(8, 2), true); err != nil || pl != Boundary {
		t.Fatalf("AddEmbedding = %v, %v", pl, err)
	}

	tests := []struct {
		name    string
		emb     []float32
		speaker string
		conf    Confidence
	}{
		// cos 0.89 to alice's core.
		{"core", vecmath.Normalize([]float32{1, 0.5, 0, 0, 0, 0, 0, 0}), "alice", High},
		// cos 0.45 to alice's boundary, 0 to everything else.
		{"boundary", vecmath.Normalize([]float32{0, 0, 1, 2, 0, 0, 0, 0}), "alice", Medium},
		// orthogonal to everything.
		{"unknown", axis(8, 7), "", Low},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := lib.Match(tt.emb)
			if m.Speaker != tt.speaker || m.Confidence != tt.conf {
				t.Fatalf("match = %+v, want %q/%s", m, tt.speaker, tt.conf)
			}
		})
	}
}

func TestMatchSingleEnrolledSpeaker(t *testing.T) {
	lib := NewLibrary(Config{}, nil)
	lib.AddSpeaker("Alice", axis(8, 0))

	// Cosine distance 0.02 from the only enrolled embedding.
	x := float32(math.Sqrt(1/(0.98*0.98) - 1))
	m := lib.Match(vecmath.Normalize([]float32{1, x, 0, 0, 0, 0, 0, 0}))
	if m.Speaker != "Alice" || m.Confidence != High {
		t.Fatalf("match = %+v, want Alice/high", m)
	}
	if math.Abs(float64(m.Score)-0.98) > 1e-3 {
		t.Errorf("score = %v, want 0.98", m.Score)
	}
	if m.RunnerUp != "" || m.Conflict || m.Label() != "Alice" {
		t.Errorf("match = %+v, want a clean single-speaker match", m)
	}
}

func TestMatchIsRepeatable(t *testing.T) {
	lib := NewLibrary(Config{}, nil)
	lib.AddSpeaker("bob", axis(8, 1))
	lib.AddSpeaker("alice", axis(8, 0))
	lib.AddSpeaker("carol", axis(8, 5))
	lib.AddSpeaker("dave", axis(8, 6))

	// Equal similarity to alice and bob.
	emb := vecmath.Normalize([]float32{1, 1, 0, 0, 0, 0, 0, 0})
	first := lib.Match(emb)
	if first.Speaker != "alice" || first.RunnerUp != "bob" || !first.Conflict {
		t.Fatalf("match = %+v, want alice ahead of bob on the name tie-break", first)
	}
	for i := range 100 {
		if m := lib.Match(emb); m != first {
			t.Fatalf("match %d = %+v, want %+v", i, m, first)
		}
	}
}

func TestMatchThresholdIsInclusive(t *testing.T) {
	lib := NewLibrary(Config{CoreThreshold: 0.6}, nil)
	lib.AddSpeaker("alice", []float32{1, 0})
	// cos = 0.6 exactly.
	m := lib.Match([]float32{3, 4})
	if m.Speaker != "alice" || m.Confidence != High {
		t.Fatalf("match = %+v, want alice/high at the threshold", m)
	}
}

func TestMatchConflict(t *testing.T) {
	lib := NewLibrary(Config{}, nil)
	lib.AddSpeaker("alice", vecmath.Normalize([]float32{1, 0.1, 0}))
	lib.AddSpeaker("bob", vecmath.Normalize([]float32{1, -0.1, 0}))

	m := lib.Match([]float32{1, 0.02, 0})
	if m.Speaker != "alice" || !m.Conflict || m.RunnerUp != "bob" {
		t.Fatalf("match = %+v, want alice with conflict against bob", m)
	}
	if m.Label() != "alice/bob?" {
		t.Errorf("label = %q", m.Label())
	}
	if pl := lib.Learn([]float32{1, 0.02, 0}, m); pl != Rejected {
		t.Errorf("learned from a conflict: %v", pl)
	}
}

func TestLearn(t *testing.T) {
	lib := NewLibrary(Config{}, nil)
	lib.AddSpeaker("alice", axis(8, 0))

	emb := vecmath.Normalize([]float32{1, 0.5, 0, 0, 0, 0, 0, 0})
	m := lib.Match(emb)
	if pl := lib.Learn(emb, m); pl != Core {
		t.Fatalf("Learn = %v, want core", pl)
	}
	if !lib.Dirty() {
		t.Error("library should be dirty after learning")
	}

	if pl := lib.Learn(axis(8, 7), lib.Match(axis(8, 7))); pl != Rejected {
		t.Errorf("learned an unknown match: %v", pl)
	}

	medium := Match{Speaker: "alice", Confidence: Medium}
	if pl := lib.Learn(vecmath.Normalize([]float32{1, 0, 0.5, 0, 0, 0, 0, 0}), medium); pl != Rejected {
		t.Errorf("learned a medium match without LearnMedium: %v", pl)
	}
}

func TestLearnMedium(t *testing.T) {
	lib := NewLibrary(Config{LearnMedium: true}, nil)
	lib.AddSpeaker("alice", axis(8, 0))

	medium := Match{Speaker: "alice", Confidence: Medium}
	close := vecmath.Normalize([]float32{1, 0, 0.5, 0, 0, 0, 0, 0})
	if pl := lib.Learn(close, medium); pl == Rejected {
		t.Error("medium match within 2σ should be learned")
	}
	if pl := lib.Learn(axis(8, 5), medium); pl != Rejected {
		t.Errorf("medium match far outside 2σ learned: %v", pl)
	}
}

func TestRenameRemove(t *testing.T) {
	lib := NewLibrary(Config{}, nil)
	lib.AddSpeaker("Speaker A", axis(4, 0))
	lib.AddSpeaker("bob", axis(4, 1))

	if _, err := lib.AddSpeaker("bob", axis(4, 2)); !errors.Is(err, ErrSpeakerExists) {
		t.Errorf("duplicate AddSpeaker: %v", err)
	}
	if err := lib.Rename("Speaker A", "bob"); !errors.Is(err, ErrSpeakerExists) {
		t.Errorf("rename onto existing: %v", err)
	}
	if err := lib.Rename("Speaker A", "alice"); err != nil {
		t.Fatal(err)
	}
	if m := lib.Match(axis(4, 0)); m.Speaker != "alice" {
		t.Errorf("match after rename = %q", m.Speaker)
	}
	if err := lib.Remove("alice"); err != nil {
		t.Fatal(err)
	}
	if err := lib.Remove("alice"); !errors.Is(err, ErrSpeakerNotFound) {
		t.Errorf("second remove: %v", err)
	}
	if got := lib.Names(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("names = %v", got)
	}
}

func TestLibraryConcurrentMatchAndLearn(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 0))
	lib := NewLibrary(Config{}, nil)
	base := randUnit(32, rng)
	lib.AddSpeaker("alice", base)

	probes := make([][]float32, 64)
	for i := range probes {
		probes[i] = near(base, 0.05, rng)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := i; j < len(probes); j += 8 {
				m := lib.Match(probes[j])
				lib.Learn(probes[j], m)
			}
		}(i)
	}
	wg.Wait()

	p, ok := lib.Get("alice")
	if !ok {
		t.Fatal("alice missing")
	}
	if len(p.Core) > DefaultMaxCore || len(p.Boundary) > DefaultMaxBoundary {
		t.Fatalf("capacity exceeded: %v", p)
	}
}

type memStore struct {
	saved []*Profile
	saves int
}

func (s *memStore) Load(context.Context, ProfileConfig) ([]*Profile, error) {
	return s.saved, nil
}

func (s *memStore) Save(_ context.Context, ps []*Profile) error {
	s.saves++
	s.saved = nil
	for _, p := range ps {
		s.saved = append(s.saved, p.Clone())
	}
	return nil
}

// blockingStore holds Save until release is closed.
type blockingStore struct {
	memStore
	started chan struct{}
	release chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, ps []*Profile) error {
	close(s.started)
	<-s.release
	return s.memStore.Save(ctx, ps)
}

func TestFlushDoesNotBlockMatch(t *testing.T) {
	store := &blockingStore{started: make(chan struct{}), release: make(chan struct{})}
	lib := NewLibrary(Config{}, store)
	lib.AddSpeaker("alice", axis(8, 0))

	flushed := make(chan error, 1)
	go func() { flushed <- lib.Flush(context.Background()) }()
	<-store.started

	matched := make(chan Match, 1)
	go func() { matched <- lib.Match(axis(8, 0)) }()
	select {
	case m := <-matched:
		if m.Speaker != "alice" {
			t.Errorf("match = %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("Match waited for the store")
	}
	if _, err := lib.AddSpeaker("bob", axis(8, 3)); err != nil {
		t.Fatal(err)
	}

	close(store.release)
	if err := <-flushed; err != nil {
		t.Fatal(err)
	}
	if len(store.saved) != 1 || store.saved[0].Name != "alice" {
		t.Fatalf("saved %d profiles, want the snapshot with alice only", len(store.saved))
	}
	if !lib.Dirty() {
		t.Error("change made during the save was marked clean")
	}
}

func TestFlushOnlyWhenDirty(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	lib := NewLibrary(Config{}, store)

	if err := lib.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if store.saves != 0 {
		t.Fatalf("clean flush saved %d times", store.saves)
	}

	lib.AddSpeaker("alice", axis(4, 0))
	if err := lib.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := lib.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}

	other := NewLibrary(Config{}, store)
	if err := other.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if other.Len() != 1 || other.Dirty() {
		t.Fatalf("loaded len=%d dirty=%v", other.Len(), other.Dirty())
	}
}
