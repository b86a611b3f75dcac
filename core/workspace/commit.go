package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/index"
	"github.com/adalundhe/quarry/core/tree"
)

// Commit publishes the staged changes as a new snapshot on the workspace's
// branch. The pipeline validates the ledger, checks advisory locks, rebuilds
// the tree, and appends with compare-and-swap against the recorded head. A
// lost race surfaces as ErrNotAtHead; the remedy is Sync then retry.
func (ws *Workspace) Commit(ctx context.Context, message string) (*commit.Commit, error) {
	pending, err := ws.ledger.listPending()
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, ErrNothingToCommit
	}

	resolves, err := ws.ledger.listResolves()
	if err != nil {
		return nil, err
	}
	if len(resolves) > 0 {
		return nil, fmt.Errorf("%w: %d paths", ErrPendingResolves, len(resolves))
	}

	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return nil, err
	}
	if err := ws.rejectUnchangedEdits(ctx, rootID, pending); err != nil {
		return nil, err
	}
	if err := ws.rejectForeignLocks(ctx, pending); err != nil {
		return nil, err
	}

	newRoot, err := ws.applyTreeChanges(ctx, rootID, pending)
	if err != nil {
		return nil, err
	}

	var parents []commit.CommitID
	if !ws.Head.IsZero() {
		parents = []commit.CommitID{ws.Head}
	}
	created := commit.New(parents, newRoot, ws.Branch, ws.Owner, message, time.Now().UTC())

	if err := ws.idx.CommitToBranch(ctx, created, ws.Branch); err != nil {
		if errors.Is(err, index.ErrStaleHead) {
			return nil, fmt.Errorf("%w: %w", ErrNotAtHead, err)
		}
		return nil, err
	}

	if err := ws.ledger.clearPending(); err != nil {
		return nil, err
	}
	ws.Head = created.ID
	if err := ws.saveConfig(); err != nil {
		return nil, err
	}
	return created, nil
}

// rejectUnchangedEdits fails the commit when any staged edit is
// byte-identical to the base snapshot, listing every offender at once.
func (ws *Workspace) rejectUnchangedEdits(ctx context.Context, rootID tree.TreeID, pending []PendingChange) error {
	var unchanged []tree.CanonicalPath
	for _, change := range pending {
		if change.Type != ChangeEdited {
			continue
		}
		entry, tracked, err := ws.findEntry(ctx, rootID, change.Path)
		if err != nil {
			return err
		}
		if tracked && entry.ContentHash().Equal(change.StagedHash) {
			unchanged = append(unchanged, change.Path)
		}
	}
	if len(unchanged) > 0 {
		return &UnchangedFilesError{Paths: unchanged}
	}
	return nil
}

// rejectForeignLocks enforces advisory locks at commit time: a staged path
// locked by another workspace in the branch's lock domain blocks the commit.
// The check is best effort, a lock taken after it runs is not seen.
func (ws *Workspace) rejectForeignLocks(ctx context.Context, pending []PendingChange) error {
	branch, err := ws.idx.GetBranch(ctx, ws.Branch)
	if err != nil {
		return err
	}

	var held []tree.CanonicalPath
	for _, change := range pending {
		lock, err := ws.idx.GetLock(ctx, branch.LockDomainID, change.Path)
		if errors.Is(err, index.ErrLockNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if lock.WorkspaceID != ws.ID {
			held = append(held, change.Path)
		}
	}
	if len(held) > 0 {
		return &LockHeldError{Paths: held}
	}
	return nil
}

// History lists commits reachable from the workspace head, newest first.
// depth 0 means unbounded.
func (ws *Workspace) History(ctx context.Context, depth int) ([]*commit.Commit, error) {
	if ws.Head.IsZero() {
		return nil, nil
	}
	return ws.idx.ListCommits(ctx, ws.Head, depth)
}

// DiffCommits reports the tree-level changes between two commits.
func (ws *Workspace) DiffCommits(ctx context.Context, from, to commit.CommitID) ([]tree.Change, error) {
	fromRoot := tree.TreeID{}
	if !from.IsZero() {
		c, err := ws.idx.GetCommit(ctx, from)
		if err != nil {
			return nil, err
		}
		fromRoot = c.RootTree
	}
	toCommit, err := ws.idx.GetCommit(ctx, to)
	if err != nil {
		return nil, err
	}
	return tree.Diff(ctx, ws.idx, fromRoot, toCommit.RootTree)
}
