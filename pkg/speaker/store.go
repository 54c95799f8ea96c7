package speaker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/kaptinlin/jsonrepair"

	"github.com/haivivi/voxid/pkg/storage"
)

// Store persists library profiles.
type Store interface {
	// Load returns all persisted profiles. A store with nothing persisted
	// yet returns an empty slice and no error.
	Load(ctx context.Context, cfg ProfileConfig) ([]*Profile, error)

	// Save replaces the persisted profiles with ps.
	Save(ctx context.Context, ps []*Profile) error
}

// profileRecord is the serialized form of a Profile.
type profileRecord struct {
	Name      string      `json:"name" msgpack:"name"`
	Core      [][]float32 `json:"core" msgpack:"core"`
	Boundary  [][]float32 `json:"boundary" msgpack:"boundary"`
	Centroid  []float32   `json:"centroid" msgpack:"centroid"`
	StdDev    float64     `json:"stdDev" msgpack:"std_dev"`
	Distances []float64   `json:"distances" msgpack:"distances"`
}

func toRecord(p *Profile) profileRecord {
	r := profileRecord{
		Name:      p.Name,
		Core:      p.Core,
		Boundary:  p.Boundary,
		Centroid:  p.Centroid,
		StdDev:    p.StdDev,
		Distances: p.Distances,
	}
	if r.Core == nil {
		r.Core = [][]float32{}
	}
	if r.Boundary == nil {
		r.Boundary = [][]float32{}
	}
	if r.Distances == nil {
		r.Distances = []float64{}
	}
	return r
}

func (r profileRecord) profile(cfg ProfileConfig) *Profile {
	p := NewProfile(r.Name, cfg)
	p.Core = r.Core
	p.Boundary = r.Boundary
	p.Centroid = r.Centroid
	if r.StdDev > 0 {
		p.StdDev = r.StdDev
	}
	p.Distances = r.Distances
	if len(p.Distances) > MaxDistanceHistory {
		p.Distances = p.Distances[len(p.Distances)-MaxDistanceHistory:]
	}
	return p
}

// legacyRecord is the object-keyed layout written by earlier releases.
type legacyRecord struct {
	Core         [][]float32 `json:"core"`
	Boundary     [][]float32 `json:"boundary"`
	Centroid     []float32   `json:"centroid"`
	StdDev       float64     `json:"std_dev"`
	AllDistances []float64   `json:"all_distances"`
}

// JSONStore keeps the library as a single JSON document in a FileStore.
//
// The document is an array of profiles. Two older layouts are read as
// well: an object mapping names to layered profiles, and an object mapping
// names to plain embedding lists, which are replayed through AddEmbedding.
type JSONStore struct {
	fs     storage.FileStore
	path   string
	logger *slog.Logger
}

// NewJSONStore returns a store for the document at path inside fs.
func NewJSONStore(files storage.FileStore, path string) *JSONStore {
	return &JSONStore{fs: files, path: path, logger: slog.Default()}
}

// WithLogger sets the logger used to report repaired documents.
func (s *JSONStore) WithLogger(l *slog.Logger) *JSONStore {
	s.logger = l
	return s
}

// Load implements Store.
func (s *JSONStore) Load(ctx context.Context, cfg ProfileConfig) ([]*Profile, error) {
	data, err := storage.ReadFile(ctx, s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*Profile{}, nil
		}
		return nil, fmt.Errorf("speaker: load %s: %w", s.path, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []*Profile{}, nil
	}

	if !json.Valid(data) {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return nil, fmt.Errorf("speaker: load %s: invalid json: %w", s.path, rerr)
		}
		s.logger.Warn("speaker: repaired damaged library file", "path", s.path)
		data = []byte(fixed)
	}

	ps, err := decodeLibrary(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("speaker: load %s: %w", s.path, err)
	}
	return ps, nil
}

// Save implements Store.
func (s *JSONStore) Save(ctx context.Context, ps []*Profile) error {
	recs := make([]profileRecord, len(ps))
	for i, p := range ps {
		recs[i] = toRecord(p)
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("speaker: encode library: %w", err)
	}
	return storage.WriteFile(ctx, s.fs, s.path, data)
}

func decodeLibrary(data []byte, cfg ProfileConfig) ([]*Profile, error) {
	if data[0] == '[' {
		var recs []profileRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, err
		}
		ps := make([]*Profile, 0, len(recs))
		seen := make(map[string]bool, len(recs))
		for _, r := range recs {
			if r.Name == "" || seen[r.Name] {
				return nil, fmt.Errorf("missing or duplicate speaker name %q", r.Name)
			}
			seen[r.Name] = true
			ps = append(ps, r.profile(cfg))
		}
		return ps, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for n := range raw {
		names = append(names, n)
	}
	sort.Strings(names)

	ps := make([]*Profile, 0, len(raw))
	for _, name := range names {
		v := bytes.TrimSpace(raw[name])
		if len(v) > 0 && v[0] == '{' {
			var lr legacyRecord
			if err := json.Unmarshal(v, &lr); err != nil {
				return nil, fmt.Errorf("speaker %q: %w", name, err)
			}
			ps = append(ps, profileRecord{
				Name:      name,
				Core:      lr.Core,
				Boundary:  lr.Boundary,
				Centroid:  lr.Centroid,
				StdDev:    lr.StdDev,
				Distances: lr.AllDistances,
			}.profile(cfg))
			continue
		}
		var embs [][]float32
		if err := json.Unmarshal(v, &embs); err != nil {
			return nil, fmt.Errorf("speaker %q: %w", name, err)
		}
		p := NewProfile(name, cfg)
		for _, e := range embs {
			p.AddEmbedding(e, false)
		}
		ps = append(ps, p)
	}
	return ps, nil
}
