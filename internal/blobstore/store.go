package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Store is the opaque blob contract of the ingestion path: files are
// written once and deleted only as a compensating action when the
// ingestion transaction fails.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// FileStore writes blobs under a storage root on the local filesystem.
type FileStore struct {
	root string
}

// NewFileStore constructs a filesystem store rooted at root.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("blobstore: empty storage root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root}, nil
}

// Put writes data under key, creating intermediate directories.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Delete removes the blob stored under key. Deleting a missing blob is
// not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("blobstore: empty key")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", errors.New("blobstore: key escapes storage root")
	}
	return filepath.Join(s.root, cleaned), nil
}
