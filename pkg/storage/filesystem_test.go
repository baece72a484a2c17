package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileSystemStore(t *testing.T) {
	t.Run("creates store with new directory", func(t *testing.T) {
		rootDir := filepath.Join(t.TempDir(), "uploads")

		store, err := NewFileSystemStore(rootDir)
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		if store.rootDir != rootDir {
			t.Errorf("Expected rootDir %s, got %s", rootDir, store.rootDir)
		}
		if _, err := os.Stat(rootDir); os.IsNotExist(err) {
			t.Error("Root directory should have been created")
		}
	})
}

func TestFileSystemStore_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	artifact, err := store.Put(ctx, "7/recording.webm", strings.NewReader("RIFF-audio"), "audio/webm")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if artifact.Size != int64(len("RIFF-audio")) {
		t.Errorf("Expected size %d, got %d", len("RIFF-audio"), artifact.Size)
	}
	if artifact.ContentType != "audio/webm" {
		t.Errorf("Expected content type audio/webm, got %s", artifact.ContentType)
	}

	rc, err := store.Open(ctx, "7/recording.webm")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "RIFF-audio" {
		t.Errorf("Expected content RIFF-audio, got %q", data)
	}

	path, cleanup, err := store.LocalPath(ctx, "7/recording.webm")
	if err != nil {
		t.Fatalf("LocalPath failed: %v", err)
	}
	cleanup()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("LocalPath cleanup must not remove the stored file: %v", err)
	}

	if err := store.Delete(ctx, "7/recording.webm"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Open(ctx, "7/recording.webm"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected ErrArtifactNotFound after delete, got %v", err)
	}

	// Second delete is a no-op
	if err := store.Delete(ctx, "7/recording.webm"); err != nil {
		t.Errorf("Deleting a missing artifact should succeed, got %v", err)
	}
}

func TestFileSystemStore_PutRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileSystemStore(t.TempDir())

	if _, err := store.Put(ctx, "a.mp3", strings.NewReader("one"), "audio/mpeg"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Put(ctx, "a.mp3", strings.NewReader("two"), "audio/mpeg"); err == nil {
		t.Error("Expected an error when the key already exists")
	}
}

func TestFileSystemStore_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileSystemStore(t.TempDir())

	for _, key := range []string{"", "../escape.mp3", "/etc/passwd"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), "audio/mpeg"); err == nil {
			t.Errorf("Expected Put(%q) to fail", key)
		}
		if _, _, err := store.LocalPath(ctx, key); err == nil {
			t.Errorf("Expected LocalPath(%q) to fail", key)
		}
	}
}

func TestFileSystemStore_LocalPathMissing(t *testing.T) {
	store, _ := NewFileSystemStore(t.TempDir())

	if _, _, err := store.LocalPath(context.Background(), "missing.wav"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected ErrArtifactNotFound, got %v", err)
	}
}
