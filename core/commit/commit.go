package commit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/adalundhe/quarry/core/tree"
)

var (
	ErrNotFound      = errors.New("commit not found")
	ErrMissingParent = errors.New("commit parent does not exist")
)

// CommitID is the sha256 of a commit's canonical metadata.
type CommitID [tree.HashSize]byte

func (c CommitID) String() string {
	return hex.EncodeToString(c[:])
}

func (c CommitID) Short() string {
	return hex.EncodeToString(c[:4])
}

func (c CommitID) IsZero() bool {
	for _, b := range c {
		if b != 0 {
			return false
		}
	}
	return true
}

func (c CommitID) Equal(other CommitID) bool {
	return c == other
}

func (c CommitID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CommitID) UnmarshalText(text []byte) error {
	parsed, err := ParseCommitID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func ParseCommitID(s string) (CommitID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return CommitID{}, fmt.Errorf("parse commit id: %w", err)
	}
	if len(raw) != tree.HashSize {
		return CommitID{}, fmt.Errorf("parse commit id: want %d bytes, got %d", tree.HashSize, len(raw))
	}
	var id CommitID
	copy(id[:], raw)
	return id, nil
}

// Commit is an immutable node in the history graph. One parent for a regular
// commit, two for a merge; the root commit of a repository has none.
type Commit struct {
	ID        CommitID    `json:"id"`
	Parents   []CommitID  `json:"parents"`
	RootTree  tree.TreeID `json:"root_tree"`
	Branch    string      `json:"branch"`
	Owner     string      `json:"owner"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// New builds a commit and derives its id from the canonical metadata, so the
// same snapshot committed with the same lineage and message at the same
// instant always produces the same id.
func New(parents []CommitID, rootTree tree.TreeID, branch, owner, message string, timestamp time.Time) *Commit {
	c := &Commit{
		Parents:   cloneIDs(parents),
		RootTree:  rootTree,
		Branch:    branch,
		Owner:     owner,
		Message:   message,
		Timestamp: timestamp.UTC(),
	}
	c.ID = c.computeID()
	return c
}

func (c *Commit) computeID() CommitID {
	h := sha256.New()
	for _, parent := range c.Parents {
		h.Write(parent[:])
	}
	h.Write(c.RootTree[:])
	h.Write([]byte(c.Branch))
	h.Write([]byte{0})
	h.Write([]byte(c.Owner))
	h.Write([]byte{0})
	h.Write([]byte(c.Message))
	h.Write([]byte{0})
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(c.Timestamp.UnixNano()))
	h.Write(ts[:])

	var id CommitID
	copy(id[:], h.Sum(nil))
	return id
}

// IsMerge reports whether the commit joins two lines of history.
func (c *Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// HasParent reports whether id is a direct parent.
func (c *Commit) HasParent(id CommitID) bool {
	for _, parent := range c.Parents {
		if parent == id {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (c *Commit) Clone() *Commit {
	clone := *c
	clone.Parents = cloneIDs(c.Parents)
	return &clone
}

func cloneIDs(ids []CommitID) []CommitID {
	if ids == nil {
		return nil
	}
	result := make([]CommitID, len(ids))
	copy(result, ids)
	return result
}
