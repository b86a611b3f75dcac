package workspace

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/tree"
)

type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeEdited
	ChangeDeleted
)

var changeTypeNames = map[ChangeType]string{
	ChangeAdded:   "added",
	ChangeEdited:  "edited",
	ChangeDeleted: "deleted",
}

func (t ChangeType) String() string {
	if name, ok := changeTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// PendingChange is one staged entry in the workspace ledger. StagedHash is
// the content hash recorded at staging time; the disk drifting away from it
// is what Status reports as an unstaged modification.
type PendingChange struct {
	Path       tree.CanonicalPath `json:"path"`
	Type       ChangeType         `json:"type"`
	StagedHash tree.ContentHash   `json:"staged_hash"`
	Size       int64              `json:"size"`
}

// ResolvePending marks a path where a sync found both a local staged change
// and an upstream change: the caller has to resolve base/ours/theirs before
// the next commit.
type ResolvePending struct {
	Path         tree.CanonicalPath `json:"path"`
	BaseCommit   commit.CommitID    `json:"base_commit"`
	TheirsCommit commit.CommitID    `json:"theirs_commit"`
}

const (
	pendingBucket  = "pending"
	resolvesBucket = "resolves"
)

// ledger is the crash-safe on-disk record of staged changes and unresolved
// conflicts, one bbolt file per workspace.
type ledger struct {
	db *bolt.DB
}

func openLedger(path string) (*ledger, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(pendingBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(resolvesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	return &ledger{db: db}, nil
}

func (l *ledger) close() error {
	return l.db.Close()
}

func (l *ledger) putPending(change PendingChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Put([]byte(change.Path), payload)
	})
}

func (l *ledger) getPending(path tree.CanonicalPath) (PendingChange, bool, error) {
	var change PendingChange
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(pendingBucket)).Get([]byte(path))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &change)
	})
	if err != nil {
		return PendingChange{}, false, fmt.Errorf("ledger: %w", err)
	}
	return change, found, nil
}

func (l *ledger) deletePending(path tree.CanonicalPath) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Delete([]byte(path))
	})
}

// listPending returns staged changes in key (path) order.
func (l *ledger) listPending() ([]PendingChange, error) {
	var changes []PendingChange
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).ForEach(func(_, raw []byte) error {
			var change PendingChange
			if err := json.Unmarshal(raw, &change); err != nil {
				return err
			}
			changes = append(changes, change)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return changes, nil
}

func (l *ledger) clearPending() error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(pendingBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(pendingBucket))
		return err
	})
}

func (l *ledger) putResolve(entry ResolvePending) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(resolvesBucket)).Put([]byte(entry.Path), payload)
	})
}

func (l *ledger) getResolve(path tree.CanonicalPath) (ResolvePending, bool, error) {
	var entry ResolvePending
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(resolvesBucket)).Get([]byte(path))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return ResolvePending{}, false, fmt.Errorf("ledger: %w", err)
	}
	return entry, found, nil
}

func (l *ledger) deleteResolve(path tree.CanonicalPath) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(resolvesBucket)).Delete([]byte(path))
	})
}

func (l *ledger) listResolves() ([]ResolvePending, error) {
	var entries []ResolvePending
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(resolvesBucket)).ForEach(func(_, raw []byte) error {
			var entry ResolvePending
			if err := json.Unmarshal(raw, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return entries, nil
}
