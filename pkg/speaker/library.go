// Package speaker implements the adaptive speaker library: two-layer
// voice profiles, two-phase matching and persistence.
//
// A Library is safe for concurrent use. Matching takes a read lock, every
// mutation takes the write lock. Flush saves a snapshot outside the lock.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/haivivi/voxid/pkg/vecmath"
)

// Matching defaults.
const (
	DefaultCoreThreshold     = 0.55
	DefaultBoundaryThreshold = 0.35
	DefaultConflictMargin    = 0.1
)

var (
	ErrSpeakerExists   = errors.New("speaker: speaker already exists")
	ErrSpeakerNotFound = errors.New("speaker: speaker not found")
	ErrEmptyName       = errors.New("speaker: empty name")
)

// Confidence grades a match by the phase that produced it.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// Match is the result of Library.Match. Speaker is empty when the embedding
// matched nobody.
type Match struct {
	Speaker    string     `json:"speaker,omitempty"`
	Confidence Confidence `json:"confidence"`
	Score      float32    `json:"score"`

	// RunnerUp is the second best speaker in the deciding phase.
	RunnerUp      string  `json:"runner_up,omitempty"`
	RunnerUpScore float32 `json:"runner_up_score,omitempty"`

	// Conflict is set when RunnerUp scored within the conflict margin of
	// Speaker. Speaker is still the best match.
	Conflict bool `json:"conflict,omitempty"`
}

// Known reports whether the match identified a speaker.
func (m Match) Known() bool { return m.Speaker != "" }

// Label is the display label for m.
func (m Match) Label() string {
	switch {
	case !m.Known():
		return "Unknown"
	case m.Conflict:
		return fmt.Sprintf("%s/%s?", m.Speaker, m.RunnerUp)
	case m.Confidence == Medium:
		return m.Speaker + "?"
	default:
		return m.Speaker
	}
}

// Config configures a Library.
type Config struct {
	CoreThreshold     float32
	BoundaryThreshold float32
	ConflictMargin    float32
	Profile           ProfileConfig

	// LearnMedium allows auto-learning from medium confidence matches that
	// lie within two standard deviations of the speaker centroid.
	LearnMedium bool

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.CoreThreshold == 0 {
		c.CoreThreshold = DefaultCoreThreshold
	}
	if c.BoundaryThreshold == 0 {
		c.BoundaryThreshold = DefaultBoundaryThreshold
	}
	if c.ConflictMargin == 0 {
		c.ConflictMargin = DefaultConflictMargin
	}
	c.Profile = c.Profile.withDefaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Library is the set of known speakers.
type Library struct {
	cfg   Config
	store Store

	// flushMu orders saves so an older snapshot never lands last.
	flushMu sync.Mutex

	mu       sync.RWMutex
	profiles map[string]*Profile
	gen      uint64 // bumped by every mutation
	saved    uint64 // gen of the last persisted or loaded state
}

// NewLibrary returns an empty library persisted to store. store may be nil
// for an in-memory library.
func NewLibrary(cfg Config, store Store) *Library {
	return &Library{
		cfg:      cfg.withDefaults(),
		store:    store,
		profiles: make(map[string]*Profile),
	}
}

// Load replaces the in-memory profiles with the persisted ones.
func (l *Library) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	profiles, err := l.store.Load(ctx, l.cfg.Profile)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profiles = make(map[string]*Profile, len(profiles))
	for _, p := range profiles {
		p.cfg = l.cfg.Profile
		l.profiles[p.Name] = p
	}
	l.saved = l.gen
	l.cfg.Logger.Debug("speaker: library loaded", "speakers", len(profiles))
	return nil
}

// Flush persists the library if it changed since the last Load or Flush.
// The store sees deep copies taken under the read lock, so matching
// continues during the save. Changes made while saving stay dirty.
func (l *Library) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.RLock()
	if l.gen == l.saved {
		l.mu.RUnlock()
		return nil
	}
	gen := l.gen
	ps := l.sortedLocked()
	for i, p := range ps {
		ps[i] = p.Clone()
	}
	l.mu.RUnlock()

	if err := l.store.Save(ctx, ps); err != nil {
		return fmt.Errorf("speaker: flush: %w", err)
	}

	l.mu.Lock()
	if gen > l.saved {
		l.saved = gen
	}
	l.mu.Unlock()
	l.cfg.Logger.Debug("speaker: library flushed", "speakers", len(ps))
	return nil
}

// Dirty reports whether there are unflushed changes.
func (l *Library) Dirty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gen != l.saved
}

// Match finds the speaker for emb.
//
// Phase one compares emb against every core embedding; the best speaker
// at or above CoreThreshold wins with High confidence. Phase two compares
// against core and boundary embeddings; the best at or above
// BoundaryThreshold wins with Medium confidence. Otherwise the match is
// unknown with Low confidence.
func (l *Library) Match(emb []float32) Match {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if m, ok := l.phase(emb, l.cfg.CoreThreshold, High, func(p *Profile) [][]float32 { return p.Core }); ok {
		return m
	}
	if m, ok := l.phase(emb, l.cfg.BoundaryThreshold, Medium, (*Profile).All); ok {
		return m
	}

	m := Match{Confidence: Low, Score: -1}
	for _, p := range l.profiles {
		if s, _ := vecmath.MaxSimilarity(emb, p.All()); s > m.Score {
			m.Score = s
		}
	}
	return m
}

func (l *Library) phase(emb []float32, threshold float32, conf Confidence, set func(*Profile) [][]float32) (Match, bool) {
	type scored struct {
		name  string
		score float32
	}
	var best, second scored
	best.score, second.score = -2, -2
	for name, p := range l.profiles {
		vs := set(p)
		if len(vs) == 0 {
			continue
		}
		s, _ := vecmath.MaxSimilarity(emb, vs)
		switch {
		case s > best.score || (s == best.score && name < best.name):
			second = best
			best = scored{name, s}
		case s > second.score || (s == second.score && name < second.name):
			second = scored{name, s}
		}
	}
	if best.name == "" || best.score < threshold {
		return Match{}, false
	}
	m := Match{Speaker: best.name, Confidence: conf, Score: best.score}
	if second.name != "" {
		m.RunnerUp = second.name
		m.RunnerUpScore = second.score
		m.Conflict = best.score-second.score < l.cfg.ConflictMargin
	}
	return m, true
}

// AddSpeaker creates a named speaker from one or more embeddings. The first
// embedding seeds the core layer and the rest are classified normally.
func (l *Library) AddSpeaker(name string, embs ...[]float32) (*Profile, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.profiles[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSpeakerExists, name)
	}
	p := NewProfile(name, l.cfg.Profile)
	for _, e := range embs {
		p.AddEmbedding(e, false)
	}
	l.profiles[name] = p
	l.gen++
	l.cfg.Logger.Info("speaker: added", "name", name, "core", len(p.Core), "boundary", len(p.Boundary))
	return p.Clone(), nil
}

// AddEmbedding adds emb to an existing speaker.
func (l *Library) AddEmbedding(name string, emb []float32, forceBoundary bool) (Placement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.profiles[name]
	if !ok {
		return Rejected, fmt.Errorf("%w: %s", ErrSpeakerNotFound, name)
	}
	pl := p.AddEmbedding(emb, forceBoundary)
	if pl != Rejected {
		l.gen++
	}
	return pl, nil
}

// Learn feeds a matched embedding back into the matched profile.
//
// Only named, conflict-free matches are learned. High confidence matches
// are always offered to the profile. Medium confidence matches are
// learned only when LearnMedium is set and emb lies within two standard
// deviations of the centroid.
func (l *Library) Learn(emb []float32, m Match) Placement {
	if !m.Known() || m.Conflict || m.Confidence == Low {
		return Rejected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.profiles[m.Speaker]
	if !ok {
		return Rejected
	}
	if m.Confidence == Medium && !(l.cfg.LearnMedium && p.WithinDeviations(emb, 2)) {
		return Rejected
	}
	pl := p.AddEmbedding(emb, false)
	if pl != Rejected {
		l.gen++
		l.cfg.Logger.Debug("speaker: learned", "name", m.Speaker, "placement", pl.String(), "score", m.Score)
	}
	return pl
}

// Rename changes a speaker's name.
func (l *Library) Rename(from, to string) error {
	if to == "" {
		return ErrEmptyName
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.profiles[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSpeakerNotFound, from)
	}
	if from == to {
		return nil
	}
	if _, ok := l.profiles[to]; ok {
		return fmt.Errorf("%w: %s", ErrSpeakerExists, to)
	}
	delete(l.profiles, from)
	p.Name = to
	l.profiles[to] = p
	l.gen++
	return nil
}

// Remove deletes a speaker.
func (l *Library) Remove(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrSpeakerNotFound, name)
	}
	delete(l.profiles, name)
	l.gen++
	return nil
}

// Get returns a copy of the named profile.
func (l *Library) Get(name string) (*Profile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.profiles[name]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Names returns the sorted speaker names.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.profiles))
	for n := range l.profiles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of speakers.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.profiles)
}

// Snapshot returns deep copies of all profiles sorted by name.
func (l *Library) Snapshot() []*Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ps := l.sortedLocked()
	for i, p := range ps {
		ps[i] = p.Clone()
	}
	return ps
}

func (l *Library) sortedLocked() []*Profile {
	ps := make([]*Profile, 0, len(l.profiles))
	for _, p := range l.profiles {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
	return ps
}
