// Package index defines the backend-agnostic contract for branch, commit,
// tree and lock persistence, and its three interchangeable implementations:
// an embedded in-memory store, a sqlite-backed store, and an HTTP client
// proxying to a remote server. All three share identical atomicity semantics:
// branch heads only move through compare-and-swap, and commits are appended
// in the same atomic step that advances the head.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/tree"
)

// DefaultBranch is the branch every new repository is seeded with.
const DefaultBranch = "main"

// Branch is a mutable pointer to a head commit plus the locking scope the
// branch participates in. Head mutation is CAS-only.
type Branch struct {
	Name         string          `json:"name"`
	Head         commit.CommitID `json:"head"`
	Parent       string          `json:"parent,omitempty"`
	LockDomainID string          `json:"lock_domain_id"`
}

// Clone returns an independent copy.
func (b *Branch) Clone() *Branch {
	clone := *b
	return &clone
}

// Lock is an advisory claim on a canonical path, visible to every branch
// sharing the lock domain. Locks persist until explicitly released.
type Lock struct {
	LockDomainID string             `json:"lock_domain_id"`
	Path         tree.CanonicalPath `json:"canonical_path"`
	WorkspaceID  string             `json:"workspace_id"`
	Branch       string             `json:"branch"`
}

// Clone returns an independent copy.
func (l *Lock) Clone() *Lock {
	clone := *l
	return &clone
}

// Index is the per-repository persistence surface. Implementations must obey:
//   - InsertBranch fails with ErrBranchExists on duplicates.
//   - UpdateBranch fails with ErrStaleHead unless the stored head equals
//     expectedHead.
//   - CommitToBranch atomically validates that the branch head equals the
//     commit's primary parent (zero head for a parentless root commit),
//     stores the commit and advances the head, or fails with ErrStaleHead.
//   - SaveTree is idempotent: identical content yields the identical id.
//   - Lock fails with ErrLockExists when (domain, path) is already held.
type Index interface {
	GetBranch(ctx context.Context, name string) (*Branch, error)
	ListBranches(ctx context.Context) ([]*Branch, error)
	InsertBranch(ctx context.Context, branch *Branch) error
	UpdateBranch(ctx context.Context, branch *Branch, expectedHead commit.CommitID) error

	GetCommit(ctx context.Context, id commit.CommitID) (*commit.Commit, error)
	ListCommits(ctx context.Context, from commit.CommitID, depth int) ([]*commit.Commit, error)
	CommitToBranch(ctx context.Context, c *commit.Commit, branchName string) error

	GetTree(ctx context.Context, id tree.TreeID) (*tree.Tree, error)
	SaveTree(ctx context.Context, t *tree.Tree) (tree.TreeID, error)

	Lock(ctx context.Context, lock *Lock) error
	Unlock(ctx context.Context, domainID string, path tree.CanonicalPath) error
	GetLock(ctx context.Context, domainID string, path tree.CanonicalPath) (*Lock, error)
	ListLocks(ctx context.Context, domainID string) ([]*Lock, error)
	CountLocks(ctx context.Context, domainID string) (int, error)
}

// RepositoryIndex manages repository lifecycle and yields per-repository
// indexes.
type RepositoryIndex interface {
	CreateRepository(ctx context.Context, name string) error
	DestroyRepository(ctx context.Context, name string) error
	RepositoryExists(ctx context.Context, name string) (bool, error)
	ListRepositories(ctx context.Context) ([]string, error)
	OpenRepository(ctx context.Context, name string) (Index, error)
	Close() error
}

// Open selects a RepositoryIndex by URL scheme: "mem:" for the embedded
// store, "http(s)://" for the remote client, anything else is a sqlite
// database path.
func Open(url string) (RepositoryIndex, error) {
	switch {
	case url == "mem:" || strings.HasPrefix(url, "mem://"):
		return NewMemory(), nil
	case strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://"):
		return NewClient(url)
	default:
		return NewSQLite(strings.TrimPrefix(url, "file://"))
	}
}

// seedRepository writes the initial state of a fresh repository through the
// public contract: an empty root tree, a parentless root commit, and the
// default branch with its own lock domain.
func seedRepository(ctx context.Context, idx Index) error {
	emptyTree := tree.NewTree()
	if _, err := idx.SaveTree(ctx, emptyTree); err != nil {
		return fmt.Errorf("seed repository: %w", err)
	}

	root := commit.New(nil, emptyTree.ID(), DefaultBranch, "", "initial commit", time.Now())
	branch := &Branch{
		Name:         DefaultBranch,
		LockDomainID: uuid.NewString(),
	}
	if err := idx.InsertBranch(ctx, branch); err != nil {
		return fmt.Errorf("seed repository: %w", err)
	}
	if err := idx.CommitToBranch(ctx, root, DefaultBranch); err != nil {
		return fmt.Errorf("seed repository: %w", err)
	}
	return nil
}
