// Package blob provides the raw byte store the engine delegates file content
// to. Blobs are addressed by sha256, so writes are idempotent and concurrent
// identical writes can never conflict.
package blob

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/adalundhe/quarry/core/tree"
)

var (
	ErrNotFound = errors.New("blob not found")
)

type Store interface {
	Read(ctx context.Context, hash tree.ContentHash) ([]byte, error)
	Write(ctx context.Context, content []byte) (tree.ContentHash, error)
	Has(ctx context.Context, hash tree.ContentHash) (bool, error)
	Close() error
}

// Open selects a store by URL: "mem:" yields an in-process store, anything
// else is treated as a bbolt database path.
func Open(url string) (Store, error) {
	if url == "mem:" || strings.HasPrefix(url, "mem://") {
		return NewMemoryStore(), nil
	}
	return NewBoltStore(strings.TrimPrefix(url, "file://"))
}

type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[tree.ContentHash][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[tree.ContentHash][]byte),
	}
}

func (s *MemoryStore) Read(ctx context.Context, hash tree.ContentHash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.blobs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneContent(content), nil
}

func (s *MemoryStore) Write(ctx context.Context, content []byte) (tree.ContentHash, error) {
	hash := tree.ComputeContentHash(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blobs[hash]; exists {
		return hash, nil
	}
	s.blobs[hash] = cloneContent(content)
	return hash, nil
}

func (s *MemoryStore) Has(ctx context.Context, hash tree.ContentHash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok, nil
}

func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneContent(content []byte) []byte {
	result := make([]byte, len(content))
	copy(result, content)
	return result
}
