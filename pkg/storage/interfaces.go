package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrArtifactNotFound is returned when a key has no stored artifact
var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact describes a stored audio upload
type Artifact struct {
	Key         string
	Size        int64
	ContentType string
}

// ArtifactStore holds uploaded audio only for the duration of note
// processing. Callers delete the artifact once processing ends.
type ArtifactStore interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) (*Artifact, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// LocalPath materializes the artifact as a local file for tools that
	// need a path. cleanup must be called when the path is no longer used.
	LocalPath(ctx context.Context, key string) (path string, cleanup func(), err error)
	Delete(ctx context.Context, key string) error
}

// Config for the artifact backend
type Config struct {
	Type string // "filesystem" or "s3"

	// Filesystem config
	FilesystemRoot string

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:           "filesystem",
		FilesystemRoot: "uploads",
		S3Region:       "us-east-1",
	}
}

// New builds the configured artifact store
func New(ctx context.Context, cfg Config) (ArtifactStore, error) {
	switch cfg.Type {
	case "", "filesystem":
		return NewFileSystemStore(cfg.FilesystemRoot)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Type)
	}
}
