package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePutDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "temperature_logs/upload-1.csv", []byte("data")); err != nil {
		t.Fatalf("put: %v", err)
	}
	path := filepath.Join(store.root, "temperature_logs", "upload-1.csv")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected blob on disk: %v", err)
	}

	if err := store.Delete(ctx, "temperature_logs/upload-1.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected blob removed, stat err=%v", err)
	}

	// Deleting again is a no-op.
	if err := store.Delete(ctx, "temperature_logs/upload-1.csv"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := store.Put(context.Background(), "../outside", []byte("x")); err == nil {
		t.Fatal("expected error for escaping key")
	}
}
