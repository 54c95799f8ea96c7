package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultConfigFile is the configuration filename inside the app
	// directory.
	DefaultConfigFile = "voxid.yaml"

	// DefaultLibraryFile is the speaker library path relative to the data
	// directory.
	DefaultLibraryFile = "speakers.json"
)

// Paths provides access to the voxid directory structure:
//
//	<UserConfigDir>/<app>/
//	├── voxid.yaml
//	├── data/          speaker library, badger files
//	├── cache/
//	└── recordings/
type Paths struct {
	// AppName is the application name
	AppName string

	// ConfigDir is os.UserConfigDir()
	ConfigDir string
}

// NewPaths creates a new Paths instance for the given app
func NewPaths(appName string) (*Paths, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("cli: config directory: %w", err)
	}
	return &Paths{
		AppName:   appName,
		ConfigDir: dir,
	}, nil
}

// AppDir returns the app-specific directory
func (p *Paths) AppDir() string {
	return filepath.Join(p.ConfigDir, p.AppName)
}

// ConfigFile returns the config file path
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}

// DataDir returns the data directory
func (p *Paths) DataDir() string {
	return filepath.Join(p.AppDir(), "data")
}

// CacheDir returns the cache directory
func (p *Paths) CacheDir() string {
	return filepath.Join(p.AppDir(), "cache")
}

// RecordingsDir returns the directory live sessions are recorded to
func (p *Paths) RecordingsDir() string {
	return filepath.Join(p.AppDir(), "recordings")
}

// EnsureDataDir creates the data directory if it doesn't exist
func (p *Paths) EnsureDataDir() error {
	return os.MkdirAll(p.DataDir(), 0755)
}

// EnsureCacheDir creates the cache directory if it doesn't exist
func (p *Paths) EnsureCacheDir() error {
	return os.MkdirAll(p.CacheDir(), 0755)
}

// EnsureRecordingsDir creates the recordings directory if it doesn't exist
func (p *Paths) EnsureRecordingsDir() error {
	return os.MkdirAll(p.RecordingsDir(), 0755)
}

// DataPath returns a path within the data directory
func (p *Paths) DataPath(name string) string {
	return filepath.Join(p.DataDir(), name)
}

// CachePath returns a path within the cache directory
func (p *Paths) CachePath(name string) string {
	return filepath.Join(p.CacheDir(), name)
}
