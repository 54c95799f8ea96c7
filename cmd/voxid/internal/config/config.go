// Package config loads the voxid configuration file.
//
// The file lives under os.UserConfigDir()/voxid/:
//
//	~/Library/Application Support/voxid/voxid.yaml   (macOS)
//	~/.config/voxid/voxid.yaml                       (Linux)
//	%AppData%/voxid/voxid.yaml                       (Windows)
//
// A missing file is not an error: every setting has a default. Durations
// are written as Go duration strings ("800ms", "5s").
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/voxid/pkg/audio/resampler"
	"github.com/haivivi/voxid/pkg/audio/source"
	"github.com/haivivi/voxid/pkg/features"
	"github.com/haivivi/voxid/pkg/inference"
	"github.com/haivivi/voxid/pkg/pipeline"
	"github.com/haivivi/voxid/pkg/speaker"
	"github.com/haivivi/voxid/pkg/storage"
	"github.com/haivivi/voxid/pkg/vad"
	"github.com/haivivi/voxid/pkg/vecid"
)

// Library store kinds.
const (
	LibraryJSON   = "json"
	LibraryBadger = "badger"
)

// VAD scorer kinds.
const (
	VADSilero = "silero"
	VADEnergy = "energy"
)

// Config is the contents of voxid.yaml.
type Config struct {
	Backend  Backend         `yaml:"backend"`
	Models   Models          `yaml:"models"`
	Audio    Audio           `yaml:"audio"`
	VAD      VAD             `yaml:"vad"`
	Features features.Config `yaml:"features"`
	Speaker  Speaker         `yaml:"speaker"`
	Pipeline Pipeline        `yaml:"pipeline"`
	Storage  Storage         `yaml:"storage"`
	Serve    Serve           `yaml:"serve"`

	path string
}

// Backend selects the inference engine.
type Backend struct {
	// Kind is native (ncnn) or portable (ONNX Runtime).
	Kind string `yaml:"kind"`

	// Fallback reloads models the native backend rejects on the portable
	// backend.
	Fallback bool `yaml:"fallback"`

	Threads int `yaml:"threads,omitempty"`

	// Provider is the ONNX Runtime execution provider to request.
	Provider string `yaml:"provider,omitempty"`
}

// Models locates model artifacts. Relative paths are resolved against
// Dir.
type Models struct {
	Dir string `yaml:"dir"`

	// Vocab is the recognizer token list.
	Vocab string `yaml:"vocab"`

	// MVN is the optional am.mvn normalisation file.
	MVN string `yaml:"mvn,omitempty"`

	EmbeddingDim int `yaml:"embedding_dim,omitempty"`
}

// Audio configures capture and file decoding.
type Audio struct {
	// Device is the capture device index; negative means the default.
	Device   int               `yaml:"device"`
	Channel  int               `yaml:"channel,omitempty"`
	Channels int               `yaml:"channels,omitempty"`
	Quality  resampler.Quality `yaml:"quality,omitempty"`

	// Realtime paces file input to the wall clock.
	Realtime bool `yaml:"realtime,omitempty"`
}

// VAD selects the voice activity scorer and its segmenter settings.
type VAD struct {
	vad.Config `yaml:",inline"`

	// Scorer is silero or energy.
	Scorer string `yaml:"scorer"`

	// EnergyThreshold is the RMS level of the energy scorer.
	EnergyThreshold float64 `yaml:"energy_threshold,omitempty"`
}

// Speaker configures the speaker library.
type Speaker struct {
	CoreThreshold     float32 `yaml:"core_threshold,omitempty"`
	BoundaryThreshold float32 `yaml:"boundary_threshold,omitempty"`
	ConflictMargin    float32 `yaml:"conflict_margin,omitempty"`
	MaxCore           int     `yaml:"max_core,omitempty"`
	MaxBoundary       int     `yaml:"max_boundary,omitempty"`
	MinDiversity      float64 `yaml:"min_diversity,omitempty"`
	LearnMedium       bool    `yaml:"learn_medium,omitempty"`

	// Cluster configures grouping of unknown speakers after a session.
	Cluster Cluster `yaml:"cluster"`
}

// Cluster configures unknown speaker clustering.
type Cluster struct {
	Method      string  `yaml:"method,omitempty"`
	Threshold   float32 `yaml:"threshold,omitempty"`
	MinSamples  int     `yaml:"min_samples,omitempty"`
	MinSegments int     `yaml:"min_segments,omitempty"`
}

// Pipeline configures the session orchestrator.
type Pipeline struct {
	QueueSize        int           `yaml:"queue_size,omitempty"`
	InferenceTimeout time.Duration `yaml:"inference_timeout,omitempty"`
	DrainTimeout     time.Duration `yaml:"drain_timeout,omitempty"`
	AutoLearn        bool          `yaml:"auto_learn"`
	EventBuffer      int           `yaml:"event_buffer,omitempty"`
}

// Storage configures where the library and recordings are kept.
type Storage struct {
	// Files is the file store for the JSON library and recordings.
	// A local store without a dir uses the data directory.
	Files storage.Config `yaml:"files"`

	// Library is json or badger.
	Library string `yaml:"library"`

	// Path is the JSON library path within Files.
	Path string `yaml:"path,omitempty"`

	// BadgerDir is the badger database directory. Empty means
	// <data>/badger.
	BadgerDir string `yaml:"badger_dir,omitempty"`

	// Recordings is the path prefix within Files for session recordings.
	Recordings string `yaml:"recordings,omitempty"`
}

// Serve configures the websocket transcript server.
type Serve struct {
	Addr    string `yaml:"addr"`
	Backlog int    `yaml:"backlog,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend: Backend{Kind: string(inference.Native), Fallback: true},
		Models:  Models{Dir: "models", Vocab: "tokens.txt", MVN: "am.mvn"},
		Audio:   Audio{Device: -1, Quality: resampler.High},
		VAD:     VAD{Config: vad.DefaultConfig(), Scorer: VADSilero},
		Speaker: Speaker{
			Cluster: Cluster{Method: string(vecid.Agglomerative), MinSegments: pipeline.DefaultMinClusterSegments},
		},
		Pipeline: Pipeline{
			QueueSize:        pipeline.DefaultQueueSize,
			InferenceTimeout: pipeline.DefaultInferenceTimeout,
			DrainTimeout:     pipeline.DefaultDrainTimeout,
			AutoLearn:        true,
			EventBuffer:      pipeline.DefaultEventBuffer,
		},
		Storage: Storage{
			Files:      storage.Config{Kind: storage.KindLocal},
			Library:    LibraryJSON,
			Path:       "speakers.json",
			Recordings: "recordings",
		},
		Serve: Serve{Addr: ":8088"},
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, "voxid", "voxid.yaml"), nil
}

// Load reads the configuration at path over the defaults. An empty path
// means DefaultPath. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the configuration to its path.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) { c.path = path }

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if _, err := inference.ParseKind(c.Backend.Kind); err != nil {
		return err
	}
	switch c.VAD.Scorer {
	case VADSilero, VADEnergy:
	default:
		return fmt.Errorf("vad: unknown scorer %q (want silero or energy)", c.VAD.Scorer)
	}
	switch c.Storage.Library {
	case LibraryJSON, LibraryBadger:
	default:
		return fmt.Errorf("storage: unknown library store %q (want json or badger)", c.Storage.Library)
	}
	switch c.Storage.Files.Kind {
	case "", storage.KindLocal, storage.KindS3:
	default:
		return fmt.Errorf("storage: unknown files backend %q", c.Storage.Files.Kind)
	}
	switch vecid.Method(c.Speaker.Cluster.Method) {
	case "", vecid.Agglomerative, vecid.DBSCAN:
	default:
		return fmt.Errorf("speaker: unknown cluster method %q", c.Speaker.Cluster.Method)
	}
	switch c.Audio.Quality {
	case "", resampler.Linear, resampler.High:
	default:
		return fmt.Errorf("audio: unknown resampler quality %q", c.Audio.Quality)
	}
	return nil
}

// Kind returns the configured backend kind.
func (c *Config) Kind() inference.Kind {
	k, _ := inference.ParseKind(c.Backend.Kind)
	return k
}

// ModelPath resolves name against the model directory.
func (c *Config) ModelPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Models.Dir, name)
}

// Library returns the speaker library settings.
func (c *Config) Library(log *slog.Logger) speaker.Config {
	s := c.Speaker
	return speaker.Config{
		CoreThreshold:     s.CoreThreshold,
		BoundaryThreshold: s.BoundaryThreshold,
		ConflictMargin:    s.ConflictMargin,
		Profile: speaker.ProfileConfig{
			MaxCore:      s.MaxCore,
			MaxBoundary:  s.MaxBoundary,
			MinDiversity: s.MinDiversity,
		},
		LearnMedium: s.LearnMedium,
		Logger:      log,
	}
}

// Clustering returns the unknown speaker clustering settings.
func (c *Config) Clustering() vecid.Config {
	return vecid.Config{
		Method:     vecid.Method(c.Speaker.Cluster.Method),
		Threshold:  c.Speaker.Cluster.Threshold,
		MinSamples: c.Speaker.Cluster.MinSamples,
	}
}

// Session returns the pipeline settings. live selects drop-when-full
// queueing.
func (c *Config) Session(live bool, log *slog.Logger) pipeline.Config {
	p := c.Pipeline
	return pipeline.Config{
		VAD:              c.VAD.Config,
		QueueSize:        p.QueueSize,
		DropWhenFull:     live,
		InferenceTimeout: p.InferenceTimeout,
		DrainTimeout:     p.DrainTimeout,
		AutoLearn:        p.AutoLearn,
		EventBuffer:      p.EventBuffer,
		Logger:           log,
	}
}

// FileSource returns the settings for decoding a recorded file.
func (c *Config) FileSource(log *slog.Logger) source.FileConfig {
	return source.FileConfig{
		Config:   source.Config{Channel: c.Audio.Channel, FrameSize: c.VAD.FrameSize},
		Quality:  c.Audio.Quality,
		Realtime: c.Audio.Realtime,
		Logger:   log,
	}
}
