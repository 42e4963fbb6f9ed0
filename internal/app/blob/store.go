// Package blob is the object storage collaborator. The engine stores file
// bytes here and keeps only URLs and hashes in its own records.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Store persists raw bytes and returns a stable URL for them.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (url string, err error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// Hash returns the hex SHA-256 digest recorded alongside stored documents.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryStore keeps blobs in process memory. Used in tests and local
// development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := fmt.Sprintf("mem://%s/%s", uuid.NewString(), name)
	s.blobs[url] = append([]byte(nil), data...)
	return url, nil
}

func (s *MemoryStore) Get(_ context.Context, url string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[url]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", url)
	}
	return append([]byte(nil), data...), nil
}

// FileStore writes blobs under a base directory.
type FileStore struct {
	dir string
}

// NewFileStore ensures the directory exists and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, uuid.NewString()+"_"+filepath.Base(name))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", err
	}
	return "file://" + path, nil
}

func (s *FileStore) Get(_ context.Context, url string) ([]byte, error) {
	const prefix = "file://"
	if len(url) <= len(prefix) || url[:len(prefix)] != prefix {
		return nil, fmt.Errorf("blob %s not found", url)
	}
	return os.ReadFile(url[len(prefix):])
}
