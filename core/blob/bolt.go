package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/adalundhe/quarry/core/tree"
)

const blobBucket = "blobs"

// BoltStore keeps blobs in a single bbolt file keyed by content hash.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
	}

	db, err := bolt.Open(cleaned, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(blobBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Read(ctx context.Context, hash tree.ContentHash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var content []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(blobBucket)).Get(hash.Bytes())
		if value == nil {
			return ErrNotFound
		}
		content = cloneContent(value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (s *BoltStore) Write(ctx context.Context, content []byte) (tree.ContentHash, error) {
	if err := ctx.Err(); err != nil {
		return tree.ContentHash{}, err
	}

	hash := tree.ComputeContentHash(content)
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(blobBucket))
		if bucket.Get(hash.Bytes()) != nil {
			return nil
		}
		return bucket.Put(hash.Bytes(), content)
	})
	if err != nil {
		return tree.ContentHash{}, fmt.Errorf("write blob: %w", err)
	}
	return hash, nil
}

func (s *BoltStore) Has(ctx context.Context, hash tree.ContentHash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(blobBucket)).Get(hash.Bytes()) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
