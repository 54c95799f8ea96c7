package storage

import "fmt"

// Backend kinds accepted by Open.
const (
	KindLocal = "local"
	KindS3    = "s3"
)

// Config selects and configures a FileStore backend.
type Config struct {
	Kind string   `yaml:"kind"`
	Dir  string   `yaml:"dir,omitempty"`
	S3   S3Config `yaml:"s3,omitempty"`
}

// Open returns the FileStore described by cfg. An empty Kind means local.
func Open(cfg Config) (FileStore, error) {
	switch cfg.Kind {
	case "", KindLocal:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("storage: local backend requires dir")
		}
		return NewLocal(cfg.Dir)
	case KindS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("storage: s3 backend requires bucket")
		}
		return NewS3(NewS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Kind)
	}
}
