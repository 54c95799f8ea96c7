package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewPaths(t *testing.T) {
	paths, err := NewPaths("testapp")
	if err != nil {
		t.Skipf("no config directory: %v", err)
	}
	if paths.AppName != "testapp" {
		t.Errorf("AppName = %q, want %q", paths.AppName, "testapp")
	}
	if paths.ConfigDir == "" {
		t.Error("ConfigDir should not be empty")
	}
}

func TestPathsLayout(t *testing.T) {
	tmpDir := t.TempDir()
	paths := &Paths{AppName: "voxid", ConfigDir: tmpDir}
	app := filepath.Join(tmpDir, "voxid")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"AppDir", paths.AppDir(), app},
		{"ConfigFile", paths.ConfigFile(), filepath.Join(app, "voxid.yaml")},
		{"DataDir", paths.DataDir(), filepath.Join(app, "data")},
		{"CacheDir", paths.CacheDir(), filepath.Join(app, "cache")},
		{"RecordingsDir", paths.RecordingsDir(), filepath.Join(app, "recordings")},
		{"DataPath", paths.DataPath(DefaultLibraryFile), filepath.Join(app, "data", "speakers.json")},
		{"CachePath", paths.CachePath("x.bin"), filepath.Join(app, "cache", "x.bin")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestPathsEnsure(t *testing.T) {
	paths := &Paths{AppName: "voxid", ConfigDir: t.TempDir()}

	for _, ensure := range []func() error{paths.EnsureDataDir, paths.EnsureCacheDir, paths.EnsureRecordingsDir} {
		if err := ensure(); err != nil {
			t.Fatal(err)
		}
	}
	for _, dir := range []string{paths.DataDir(), paths.CacheDir(), paths.RecordingsDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
	// Idempotent.
	if err := paths.EnsureDataDir(); err != nil {
		t.Errorf("second EnsureDataDir: %v", err)
	}
}
