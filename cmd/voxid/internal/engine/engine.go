// Package engine assembles pipeline components from the voxid
// configuration. Every part is created on first use, so commands that
// only touch the speaker library never load a model.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/haivivi/voxid/cmd/voxid/internal/config"
	"github.com/haivivi/voxid/pkg/asr"
	"github.com/haivivi/voxid/pkg/audio/portaudio"
	"github.com/haivivi/voxid/pkg/audio/source"
	"github.com/haivivi/voxid/pkg/cli"
	"github.com/haivivi/voxid/pkg/features"
	"github.com/haivivi/voxid/pkg/inference"
	"github.com/haivivi/voxid/pkg/ncnn"
	"github.com/haivivi/voxid/pkg/onnx"
	"github.com/haivivi/voxid/pkg/pipeline"
	"github.com/haivivi/voxid/pkg/speaker"
	"github.com/haivivi/voxid/pkg/storage"
	"github.com/haivivi/voxid/pkg/vad"
	"github.com/haivivi/voxid/pkg/voiceprint"
)

// Engine owns the backends, models and stores of one command run.
type Engine struct {
	cfg   *config.Config
	paths *cli.Paths
	log   *slog.Logger

	session  *inference.Session
	models   []inference.Model
	files    storage.FileStore
	badger   *speaker.BadgerStore
	library  *speaker.Library
	features *features.Extractor
	embedder *voiceprint.Embedder
	scorer   vad.Scorer
}

// New returns an Engine. Nothing is opened until asked for.
func New(cfg *config.Config, paths *cli.Paths, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, paths: paths, log: log}
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Files returns the file store for the JSON library and recordings.
func (e *Engine) Files() (storage.FileStore, error) {
	if e.files != nil {
		return e.files, nil
	}
	sc := e.cfg.Storage.Files
	if (sc.Kind == "" || sc.Kind == storage.KindLocal) && sc.Dir == "" {
		sc.Dir = e.paths.DataDir()
	}
	files, err := storage.Open(sc)
	if err != nil {
		return nil, err
	}
	e.files = files
	return files, nil
}

// Library returns the speaker library, loaded from its store.
func (e *Engine) Library(ctx context.Context) (*speaker.Library, error) {
	if e.library != nil {
		return e.library, nil
	}
	var store speaker.Store
	switch e.cfg.Storage.Library {
	case config.LibraryBadger:
		dir := e.cfg.Storage.BadgerDir
		if dir == "" {
			dir = e.paths.DataPath("badger")
		}
		bs, err := speaker.NewBadgerStore(speaker.BadgerStoreOptions{Dir: dir, Logger: e.log})
		if err != nil {
			return nil, err
		}
		e.badger = bs
		store = bs
	default:
		files, err := e.Files()
		if err != nil {
			return nil, err
		}
		store = speaker.NewJSONStore(files, e.cfg.Storage.Path).WithLogger(e.log)
	}
	lib := speaker.NewLibrary(e.cfg.Library(e.log), store)
	if err := lib.Load(ctx); err != nil {
		return nil, err
	}
	e.library = lib
	return lib, nil
}

// backend opens the inference session for the configured kind.
func (e *Engine) backend() (*inference.Session, error) {
	if e.session != nil {
		return e.session, nil
	}
	b := e.cfg.Backend
	opts := inference.Options{Logger: e.log}
	portable := func() (inference.Backend, error) {
		rt, err := onnx.NewRuntime(onnx.RuntimeOptions{Threads: b.Threads, Provider: b.Provider, Logger: e.log})
		if err != nil {
			return nil, err
		}
		return inference.NewPortable(rt, opts), nil
	}

	var primary, fallback inference.Backend
	switch e.cfg.Kind() {
	case inference.Native:
		primary = inference.NewNative(ncnn.NewRuntime(ncnn.RuntimeOptions{Threads: b.Threads}), opts)
		if b.Fallback {
			fb, err := portable()
			if err != nil {
				e.log.Warn("engine: portable fallback unavailable", "err", err)
			} else {
				fallback = fb
			}
		}
	default:
		p, err := portable()
		if err != nil {
			return nil, err
		}
		primary = p
	}
	e.session = inference.NewSession(primary, fallback, e.log)
	return e.session, nil
}

func (e *Engine) load(spec inference.ModelSpec) (inference.Model, error) {
	s, err := e.backend()
	if err != nil {
		return nil, err
	}
	m, err := s.Load(spec)
	if err != nil {
		return nil, err
	}
	e.models = append(e.models, m)
	return m, nil
}

// Features returns the feature extractor, with the model's MVN file
// applied when present.
func (e *Engine) Features() (*features.Extractor, error) {
	if e.features != nil {
		return e.features, nil
	}
	fc := e.cfg.Features
	if path := e.cfg.ModelPath(e.cfg.Models.MVN); path != "" {
		mvn, err := features.LoadMVN(path)
		switch {
		case err == nil:
			fc.MVN = mvn
		case errors.Is(err, fs.ErrNotExist):
			e.log.Debug("engine: no mvn file", "path", path)
		default:
			return nil, err
		}
	}
	fx, err := features.New(fc)
	if err != nil {
		return nil, err
	}
	e.features = fx
	return fx, nil
}

// Scorer returns the configured VAD scorer.
func (e *Engine) Scorer() (vad.Scorer, error) {
	if e.scorer != nil {
		return e.scorer, nil
	}
	if e.cfg.VAD.Scorer == config.VADEnergy {
		e.scorer = vad.Energy{Threshold: e.cfg.VAD.EnergyThreshold}
		return e.scorer, nil
	}
	m, err := e.load(vad.SileroSpec(e.cfg.Models.Dir, e.cfg.Kind()))
	if err != nil {
		return nil, err
	}
	e.scorer = vad.NewSilero(m)
	return e.scorer, nil
}

// Embedder returns the speaker embedder.
func (e *Engine) Embedder() (*voiceprint.Embedder, error) {
	if e.embedder != nil {
		return e.embedder, nil
	}
	fx, err := e.Features()
	if err != nil {
		return nil, err
	}
	spec := voiceprint.Spec(e.cfg.Models.Dir, e.cfg.Kind(), fx.Config().EmbeddingBuckets, fx.EmbeddingDim())
	m, err := e.load(spec)
	if err != nil {
		return nil, err
	}
	var opts []voiceprint.Option
	if d := e.cfg.Models.EmbeddingDim; d > 0 {
		opts = append(opts, voiceprint.WithDim(d))
	}
	e.embedder = voiceprint.NewEmbedder(m, opts...)
	return e.embedder, nil
}

// Recognizer returns the speech recognizer.
func (e *Engine) Recognizer() (*asr.Engine, error) {
	fx, err := e.Features()
	if err != nil {
		return nil, err
	}
	vocab, err := asr.LoadVocab(e.cfg.ModelPath(e.cfg.Models.Vocab))
	if err != nil {
		return nil, err
	}
	fc := fx.Config()
	m, err := e.load(asr.Spec(e.cfg.Models.Dir, e.cfg.Kind(), fc.ASRBuckets, fx.ASRDim()))
	if err != nil {
		return nil, err
	}
	return asr.NewEngine(m, vocab, asr.Config{LFRM: fc.LFRM, LFRN: fc.LFRN, Logger: e.log}), nil
}

// Components loads every model a session needs. Any load failure is
// returned here, before capture starts.
func (e *Engine) Components(ctx context.Context) (pipeline.Components, error) {
	var c pipeline.Components
	var err error
	if c.VAD, err = e.Scorer(); err != nil {
		return c, fmt.Errorf("load vad: %w", err)
	}
	if c.Features, err = e.Features(); err != nil {
		return c, err
	}
	if c.ASR, err = e.Recognizer(); err != nil {
		return c, fmt.Errorf("load asr: %w", err)
	}
	if c.Embedder, err = e.Embedder(); err != nil {
		return c, fmt.Errorf("load speaker model: %w", err)
	}
	if c.Library, err = e.Library(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// FileSource returns a source decoding the recording at path.
func (e *Engine) FileSource(path string) source.Source {
	return source.NewFile(path, e.cfg.FileSource(e.log))
}

// LiveSource returns a microphone source. device overrides the configured
// device when non-nil.
func (e *Engine) LiveSource(device *int) *portaudio.Live {
	a := e.cfg.Audio
	if device != nil {
		a.Device = *device
	}
	return portaudio.NewLive(portaudio.LiveConfig{
		Config:   source.Config{Channel: a.Channel, FrameSize: e.cfg.VAD.FrameSize},
		Device:   a.Device,
		Channels: a.Channels,
		Logger:   e.log,
	})
}

// Close flushes the library and releases models, backends and stores.
// It may be called more than once.
func (e *Engine) Close() error {
	var errs []error
	if e.library != nil {
		errs = append(errs, e.library.Flush(context.Background()))
		e.library = nil
	}
	for _, m := range e.models {
		errs = append(errs, m.Close())
	}
	e.models = nil
	e.embedder, e.scorer = nil, nil
	if e.session != nil {
		errs = append(errs, e.session.Close())
		e.session = nil
	}
	if e.badger != nil {
		errs = append(errs, e.badger.Close())
		e.badger = nil
	}
	return errors.Join(errs...)
}
