package workspace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adalundhe/quarry/core/tree"
)

var (
	ErrNotInitialized     = errors.New("workspace not initialized")
	ErrAlreadyInitialized = errors.New("workspace already initialized")
	ErrNothingToCommit    = errors.New("nothing to commit")
	ErrNothingToRevert    = errors.New("nothing to revert")
	ErrNotTracked         = errors.New("path is not tracked")
	ErrAlreadyTracked     = errors.New("path is already tracked")
	ErrPendingChanges     = errors.New("workspace has pending changes")
	ErrPendingResolves    = errors.New("workspace has unresolved conflicts")
	ErrNoResolvePending   = errors.New("no conflict pending for path")

	// ErrNotAtHead is the recoverable commit failure: another workspace
	// advanced the branch first. The remedy is sync and retry.
	ErrNotAtHead = errors.New("workspace is behind the branch head")

	// ErrLockHeldByOther rejects a commit touching a path someone else has
	// locked in the branch's lock domain.
	ErrLockHeldByOther = errors.New("lock held by another workspace")

	ErrPathIgnored        = errors.New("path is ignored")
	ErrBranchHasParent    = errors.New("branch already has a parent")
	ErrLockDomainConflict = errors.New("lock domains hold conflicting locks")
	ErrMergeConflict      = errors.New("merge conflict")
)

// UnchangedFilesError rejects a commit whose staged edits are byte-identical
// to the base tree. Every offender is listed so the user can revert them in
// one pass instead of discovering them one commit attempt at a time.
type UnchangedFilesError struct {
	Paths []tree.CanonicalPath
}

func (e *UnchangedFilesError) Error() string {
	return fmt.Sprintf("files marked for edition carry no changes: %s", joinPaths(e.Paths))
}

func (e *UnchangedFilesError) Is(target error) bool {
	return target == ErrUnchangedFiles
}

var ErrUnchangedFiles = errors.New("unchanged files marked for edition")

// LockHeldError lists every staged path locked by another workspace.
type LockHeldError struct {
	Paths []tree.CanonicalPath
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("paths locked by another workspace: %s", joinPaths(e.Paths))
}

func (e *LockHeldError) Is(target error) bool {
	return target == ErrLockHeldByOther
}

// LockDomainConflictError rejects attaching two lock domains that both hold
// a lock on the same canonical path.
type LockDomainConflictError struct {
	Paths []tree.CanonicalPath
}

func (e *LockDomainConflictError) Error() string {
	return fmt.Sprintf("paths locked in both domains: %s", joinPaths(e.Paths))
}

func (e *LockDomainConflictError) Is(target error) bool {
	return target == ErrLockDomainConflict
}

// MergeConflictError lists the paths a branch merge could not reconcile.
type MergeConflictError struct {
	Paths []tree.CanonicalPath
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflicts on: %s", joinPaths(e.Paths))
}

func (e *MergeConflictError) Is(target error) bool {
	return target == ErrMergeConflict
}

func joinPaths(paths []tree.CanonicalPath) string {
	parts := make([]string, len(paths))
	for i, path := range paths {
		parts[i] = path.String()
	}
	return strings.Join(parts, ", ")
}
