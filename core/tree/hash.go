package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const HashSize = 32

// ContentHash is the sha256 content address of a blob.
type ContentHash [HashSize]byte

// TreeID is the sha256 of a tree's canonical serialization.
type TreeID [HashSize]byte

func ComputeContentHash(content []byte) ContentHash {
	return ContentHash(sha256.Sum256(content))
}

func (c ContentHash) String() string {
	return hex.EncodeToString(c[:])
}

func (c ContentHash) Short() string {
	return hex.EncodeToString(c[:4])
}

func (c ContentHash) IsZero() bool {
	for _, b := range c {
		if b != 0 {
			return false
		}
	}
	return true
}

func (c ContentHash) Bytes() []byte {
	result := make([]byte, HashSize)
	copy(result, c[:])
	return result
}

func (c ContentHash) Equal(other ContentHash) bool {
	return c == other
}

func (c ContentHash) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ContentHash) UnmarshalText(text []byte) error {
	parsed, err := ParseContentHash(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func ParseContentHash(s string) (ContentHash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ContentHash{}, fmt.Errorf("parse content hash: %w", err)
	}
	if len(raw) != HashSize {
		return ContentHash{}, fmt.Errorf("parse content hash: want %d bytes, got %d", HashSize, len(raw))
	}
	var hash ContentHash
	copy(hash[:], raw)
	return hash, nil
}

func (t TreeID) String() string {
	return hex.EncodeToString(t[:])
}

func (t TreeID) Short() string {
	return hex.EncodeToString(t[:4])
}

func (t TreeID) IsZero() bool {
	for _, b := range t {
		if b != 0 {
			return false
		}
	}
	return true
}

func (t TreeID) Equal(other TreeID) bool {
	return t == other
}

func (t TreeID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TreeID) UnmarshalText(text []byte) error {
	parsed, err := ParseTreeID(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseTreeID(s string) (TreeID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return TreeID{}, fmt.Errorf("parse tree id: %w", err)
	}
	if len(raw) != HashSize {
		return TreeID{}, fmt.Errorf("parse tree id: want %d bytes, got %d", HashSize, len(raw))
	}
	var id TreeID
	copy(id[:], raw)
	return id, nil
}
