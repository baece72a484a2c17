package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemStore implements ArtifactStore on the local filesystem
type FileSystemStore struct {
	rootDir string
}

// NewFileSystemStore creates a filesystem store rooted at rootDir
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

func (s *FileSystemStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(key)), nil
}

// Put implements ArtifactStore.Put
func (s *FileSystemStore) Put(ctx context.Context, key string, content io.Reader, contentType string) (*Artifact, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact file: %w", err)
	}

	size, err := io.Copy(f, content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write artifact file: %w", err)
	}

	return &Artifact{Key: key, Size: size, ContentType: contentType}, nil
}

// Open implements ArtifactStore.Open
func (s *FileSystemStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact file: %w", err)
	}
	return f, nil
}

// LocalPath implements ArtifactStore.LocalPath. The stored file is returned
// directly; cleanup is a no-op.
func (s *FileSystemStore) LocalPath(ctx context.Context, key string) (string, func(), error) {
	path, err := s.path(key)
	if err != nil {
		return "", nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, ErrArtifactNotFound
		}
		return "", nil, fmt.Errorf("failed to stat artifact file: %w", err)
	}
	return path, func() {}, nil
}

// Delete implements ArtifactStore.Delete. Deleting a missing key is not an error.
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact file: %w", err)
	}
	return nil
}
