package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/haivivi/voxid/cmd/voxid/internal/config"
	"github.com/haivivi/voxid/pkg/cli"
	"github.com/haivivi/voxid/pkg/storage"
	"github.com/haivivi/voxid/pkg/vad"
)

func newTestEngine(t *testing.T, edit func(*config.Config)) (*Engine, *cli.Paths) {
	t.Helper()
	cfg := config.Default()
	cfg.Models.Dir = t.TempDir()
	cfg.VAD.Scorer = config.VADEnergy
	if edit != nil {
		edit(cfg)
	}
	paths := &cli.Paths{AppName: "voxid", ConfigDir: t.TempDir()}
	e := New(cfg, paths, nil)
	t.Cleanup(func() { e.Close() })
	return e, paths
}

func TestLibraryJSONPersists(t *testing.T) {
	ctx := context.Background()
	e, paths := newTestEngine(t, nil)

	lib, err := e.Library(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := e.Library(ctx); again != lib {
		t.Error("Library should be opened once")
	}
	if _, err := lib.AddSpeaker("Alice", []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(paths.DataDir(), "speakers.json")); err != nil {
		t.Fatalf("library file not written: %v", err)
	}
	e2 := New(e.Config(), paths, nil)
	defer e2.Close()
	lib2, err := e2.Library(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := lib2.Get("Alice"); !ok {
		t.Error("Alice not reloaded")
	}
}

func TestLibraryBadger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e, _ := newTestEngine(t, func(c *config.Config) {
		c.Storage.Library = config.LibraryBadger
		c.Storage.BadgerDir = dir
	})
	lib, err := e.Library(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lib.AddSpeaker("Bob", []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2, _ := newTestEngine(t, func(c *config.Config) {
		c.Storage.Library = config.LibraryBadger
		c.Storage.BadgerDir = dir
	})
	lib2, err := e2.Library(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := lib2.Get("Bob"); !ok {
		t.Error("Bob not reloaded from badger")
	}
}

func TestFilesDefaultsToDataDir(t *testing.T) {
	e, paths := newTestEngine(t, nil)
	files, err := e.Files()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := storage.WriteFile(ctx, files, "probe.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(paths.DataPath("probe.txt")); err != nil {
		t.Errorf("file not under data dir: %v", err)
	}
}

func TestFeaturesAndEnergyScorer(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	fx, err := e.Features()
	if err != nil {
		t.Fatal(err)
	}
	if fx.Config().MVN != nil {
		t.Error("no mvn file exists, MVN should be nil")
	}
	s, err := e.Scorer()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(vad.Energy); !ok {
		t.Errorf("scorer = %T, want vad.Energy", s)
	}
}

func TestFeaturesRejectsBadMVN(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	path := filepath.Join(e.Config().Models.Dir, "am.mvn")
	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Features(); err == nil {
		t.Error("expected error for a malformed mvn file")
	}
}

func TestRecognizerMissingVocab(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if _, err := e.Recognizer(); err == nil {
		t.Error("expected error without tokens.txt")
	}
}
