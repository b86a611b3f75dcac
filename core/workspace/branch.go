package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/index"
	"github.com/adalundhe/quarry/core/tree"
)

// CreateBranch snapshots the current workspace state into a commit on a new
// branch. The new branch inherits the parent's lock domain, so locks stay
// visible across the family until an explicit detach.
func (ws *Workspace) CreateBranch(ctx context.Context, name string) (*commit.Commit, error) {
	resolves, err := ws.ledger.listResolves()
	if err != nil {
		return nil, err
	}
	if len(resolves) > 0 {
		return nil, fmt.Errorf("%w: %d paths", ErrPendingResolves, len(resolves))
	}

	current, err := ws.idx.GetBranch(ctx, ws.Branch)
	if err != nil {
		return nil, err
	}

	branch := &index.Branch{
		Name:         name,
		Head:         ws.Head,
		Parent:       ws.Branch,
		LockDomainID: current.LockDomainID,
	}
	if err := ws.idx.InsertBranch(ctx, branch); err != nil {
		return nil, err
	}

	pending, err := ws.ledger.listPending()
	if err != nil {
		return nil, err
	}

	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return nil, err
	}
	newRoot := rootID
	if len(pending) > 0 {
		newRoot, err = ws.applyTreeChanges(ctx, rootID, pending)
		if err != nil {
			return nil, err
		}
	}

	snapshot := commit.New(
		[]commit.CommitID{ws.Head},
		newRoot,
		name,
		ws.Owner,
		fmt.Sprintf("branch %s from %s", name, ws.Branch),
		time.Now().UTC(),
	)
	if err := ws.idx.CommitToBranch(ctx, snapshot, name); err != nil {
		return nil, err
	}

	if err := ws.ledger.clearPending(); err != nil {
		return nil, err
	}
	ws.Branch = name
	ws.Head = snapshot.ID
	if err := ws.saveConfig(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SwitchBranch checks out another branch. The workspace has to be clean.
func (ws *Workspace) SwitchBranch(ctx context.Context, name string) error {
	if err := ws.requireClean(); err != nil {
		return err
	}

	branch, err := ws.idx.GetBranch(ctx, name)
	if err != nil {
		return err
	}

	previousBranch, previousHead := ws.Branch, ws.Head
	ws.Branch = name
	if _, err := ws.SyncTo(ctx, branch.Head); err != nil {
		ws.Branch, ws.Head = previousBranch, previousHead
		return err
	}
	return nil
}

// DetachBranch moves the current branch and all of its descendants onto a
// fresh, empty lock domain and clears the branch's parent link. Locks taken
// under the old domain stay there, so paths this family needs protected must
// be relocked.
func (ws *Workspace) DetachBranch(ctx context.Context) (string, error) {
	branch, err := ws.idx.GetBranch(ctx, ws.Branch)
	if err != nil {
		return "", err
	}

	family, err := ws.branchFamily(ctx, branch.Name)
	if err != nil {
		return "", err
	}

	domain := uuid.NewString()
	for _, member := range family {
		member.LockDomainID = domain
		if member.Name == branch.Name {
			member.Parent = ""
		}
		if err := ws.idx.UpdateBranch(ctx, member, member.Head); err != nil {
			return "", err
		}
	}
	return domain, nil
}

// AttachBranch unions the current branch's lock domain into the target
// parent's domain and links the branch under it. The union fails when any
// canonical path is locked in both domains.
func (ws *Workspace) AttachBranch(ctx context.Context, parentName string) error {
	branch, err := ws.idx.GetBranch(ctx, ws.Branch)
	if err != nil {
		return err
	}
	if branch.Parent != "" {
		return fmt.Errorf("%w: %s is attached to %s", ErrBranchHasParent, branch.Name, branch.Parent)
	}

	parent, err := ws.idx.GetBranch(ctx, parentName)
	if err != nil {
		return err
	}

	ours, err := ws.idx.ListLocks(ctx, branch.LockDomainID)
	if err != nil {
		return err
	}

	var conflicts []tree.CanonicalPath
	for _, lock := range ours {
		_, err := ws.idx.GetLock(ctx, parent.LockDomainID, lock.Path)
		if errors.Is(err, index.ErrLockNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		conflicts = append(conflicts, lock.Path)
	}
	if len(conflicts) > 0 {
		return &LockDomainConflictError{Paths: conflicts}
	}

	// Move every lock into the parent's domain before repointing branches,
	// so protection never lapses mid-attach.
	for _, lock := range ours {
		moved := lock.Clone()
		moved.LockDomainID = parent.LockDomainID
		if err := ws.idx.Lock(ctx, moved); err != nil {
			return err
		}
		if err := ws.idx.Unlock(ctx, branch.LockDomainID, lock.Path); err != nil {
			return err
		}
	}

	family, err := ws.branchFamily(ctx, branch.Name)
	if err != nil {
		return err
	}
	for _, member := range family {
		member.LockDomainID = parent.LockDomainID
		if member.Name == branch.Name {
			member.Parent = parentName
		}
		if err := ws.idx.UpdateBranch(ctx, member, member.Head); err != nil {
			return err
		}
	}
	return nil
}

// branchFamily returns the branch and every descendant reachable by
// following parent links forward.
func (ws *Workspace) branchFamily(ctx context.Context, root string) ([]*index.Branch, error) {
	all, err := ws.idx.ListBranches(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]*index.Branch)
	byName := make(map[string]*index.Branch, len(all))
	for _, branch := range all {
		byName[branch.Name] = branch
		if branch.Parent != "" {
			children[branch.Parent] = append(children[branch.Parent], branch)
		}
	}

	rootBranch, ok := byName[root]
	if !ok {
		return nil, fmt.Errorf("%w: %s", index.ErrBranchNotFound, root)
	}

	family := []*index.Branch{rootBranch}
	queue := []string{root}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, child := range children[name] {
			family = append(family, child)
			queue = append(queue, child.Name)
		}
	}
	return family, nil
}

// Merge brings another branch's history into the current branch. When the
// target is a descendant the branch pointer fast-forwards and no commit is
// created; otherwise a two-parent merge commit is built from a three-way
// tree merge. Returns the merge commit, or nil for fast-forwards and
// already-merged targets.
func (ws *Workspace) Merge(ctx context.Context, otherName string) (*commit.Commit, error) {
	if err := ws.requireClean(); err != nil {
		return nil, err
	}

	other, err := ws.idx.GetBranch(ctx, otherName)
	if err != nil {
		return nil, err
	}
	target := other.Head

	if done, err := commit.IsAncestor(ctx, ws.idx, target, ws.Head); err != nil {
		return nil, err
	} else if done {
		return nil, nil
	}

	if ff, err := commit.CanFastForward(ctx, ws.idx, ws.Head, target); err != nil {
		return nil, err
	} else if ff {
		branch, err := ws.idx.GetBranch(ctx, ws.Branch)
		if err != nil {
			return nil, err
		}
		updated := branch.Clone()
		updated.Head = target
		if err := ws.idx.UpdateBranch(ctx, updated, ws.Head); err != nil {
			if errors.Is(err, index.ErrStaleHead) {
				return nil, fmt.Errorf("%w: %w", ErrNotAtHead, err)
			}
			return nil, err
		}
		if _, err := ws.SyncTo(ctx, target); err != nil {
			return nil, err
		}
		return nil, nil
	}

	base, err := commit.FindCommonAncestor(ctx, ws.idx, ws.Head, target)
	if err != nil {
		return nil, err
	}

	mergeChanges, err := ws.mergeTrees(ctx, base.ID, ws.Head, target)
	if err != nil {
		return nil, err
	}

	oursRoot, err := ws.rootTree(ctx)
	if err != nil {
		return nil, err
	}
	newRoot := oursRoot
	if len(mergeChanges) > 0 {
		newRoot, err = ws.applyTreeChanges(ctx, oursRoot, mergeChanges)
		if err != nil {
			return nil, err
		}
	}

	merged := commit.New(
		[]commit.CommitID{ws.Head, target},
		newRoot,
		ws.Branch,
		ws.Owner,
		fmt.Sprintf("merge %s into %s", otherName, ws.Branch),
		time.Now().UTC(),
	)
	if err := ws.idx.CommitToBranch(ctx, merged, ws.Branch); err != nil {
		if errors.Is(err, index.ErrStaleHead) {
			return nil, fmt.Errorf("%w: %w", ErrNotAtHead, err)
		}
		return nil, err
	}

	if _, err := ws.SyncTo(ctx, merged.ID); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeTrees computes the changes that bring the ours snapshot to the merged
// state: theirs-only changes apply directly, both-sides changes go through a
// content-level three-way merge.
func (ws *Workspace) mergeTrees(ctx context.Context, baseID, oursID, theirsID commit.CommitID) ([]PendingChange, error) {
	baseRoot, err := ws.commitRoot(ctx, baseID)
	if err != nil {
		return nil, err
	}
	oursRoot, err := ws.commitRoot(ctx, oursID)
	if err != nil {
		return nil, err
	}
	theirsRoot, err := ws.commitRoot(ctx, theirsID)
	if err != nil {
		return nil, err
	}

	oursDiff, err := tree.Diff(ctx, ws.idx, baseRoot, oursRoot)
	if err != nil {
		return nil, err
	}
	theirsDiff, err := tree.Diff(ctx, ws.idx, baseRoot, theirsRoot)
	if err != nil {
		return nil, err
	}

	oursByPath := expandChanges(oursDiff)
	theirsByPath := expandChanges(theirsDiff)

	var (
		merged    []PendingChange
		conflicts []tree.CanonicalPath
	)
	for path, theirChange := range theirsByPath {
		ourChange, contested := oursByPath[path]
		if !contested {
			merged = append(merged, changeToPending(theirChange))
			continue
		}

		ourDeleted := ourChange.Type == tree.ChangeDeleted
		theirDeleted := theirChange.Type == tree.ChangeDeleted
		switch {
		case ourDeleted && theirDeleted:
			// Both sides removed it; the ours tree already reflects that.
		case ourDeleted != theirDeleted:
			conflicts = append(conflicts, path)
		case ourChange.NewHash.Equal(theirChange.NewHash):
			// Identical outcome on both sides.
		default:
			change, ok, err := ws.mergeFileContents(ctx, path, baseRoot, ourChange, theirChange)
			if err != nil {
				return nil, err
			}
			if !ok {
				conflicts = append(conflicts, path)
				continue
			}
			merged = append(merged, change)
		}
	}

	if len(conflicts) > 0 {
		return nil, &MergeConflictError{Paths: conflicts}
	}
	return merged, nil
}

// mergeFileContents three-way merges one file modified on both sides.
func (ws *Workspace) mergeFileContents(
	ctx context.Context,
	path tree.CanonicalPath,
	baseRoot tree.TreeID,
	ourChange, theirChange tree.Change,
) (PendingChange, bool, error) {
	var base []byte
	if entry, found, err := ws.findEntry(ctx, baseRoot, path); err != nil {
		return PendingChange{}, false, err
	} else if found && entry.Kind == tree.EntryFile {
		base, err = ws.blobs.Read(ctx, entry.ContentHash())
		if err != nil {
			return PendingChange{}, false, err
		}
	}

	ours, err := ws.blobs.Read(ctx, ourChange.NewHash)
	if err != nil {
		return PendingChange{}, false, err
	}
	theirs, err := ws.blobs.Read(ctx, theirChange.NewHash)
	if err != nil {
		return PendingChange{}, false, err
	}

	if isBinary(base) || isBinary(ours) || isBinary(theirs) {
		return PendingChange{}, false, nil
	}

	content, conflict := mergeContent(base, ours, theirs)
	if conflict {
		return PendingChange{}, false, nil
	}

	hash := tree.ComputeContentHash(content)
	if _, err := ws.blobs.Write(ctx, content); err != nil {
		return PendingChange{}, false, err
	}
	return PendingChange{
		Path:       path,
		Type:       ChangeEdited,
		StagedHash: hash,
		Size:       int64(len(content)),
	}, true, nil
}

func (ws *Workspace) commitRoot(ctx context.Context, id commit.CommitID) (tree.TreeID, error) {
	if id.IsZero() {
		return tree.TreeID{}, nil
	}
	c, err := ws.idx.GetCommit(ctx, id)
	if err != nil {
		return tree.TreeID{}, err
	}
	return c.RootTree, nil
}

// expandChanges keys changes by path, splitting renames into their delete
// and add halves so merge bookkeeping sees one change per path.
func expandChanges(changes []tree.Change) map[tree.CanonicalPath]tree.Change {
	byPath := make(map[tree.CanonicalPath]tree.Change, len(changes))
	for _, change := range changes {
		if change.Type == tree.ChangeRenamed {
			byPath[change.OldPath] = tree.Change{
				Path:    change.OldPath,
				Type:    tree.ChangeDeleted,
				OldHash: change.OldHash,
			}
			byPath[change.Path] = tree.Change{
				Path:    change.Path,
				Type:    tree.ChangeAdded,
				NewHash: change.NewHash,
				NewSize: change.NewSize,
			}
			continue
		}
		byPath[change.Path] = change
	}
	return byPath
}

func changeToPending(change tree.Change) PendingChange {
	switch change.Type {
	case tree.ChangeDeleted:
		return PendingChange{Path: change.Path, Type: ChangeDeleted}
	case tree.ChangeAdded:
		return PendingChange{Path: change.Path, Type: ChangeAdded, StagedHash: change.NewHash, Size: change.NewSize}
	default:
		return PendingChange{Path: change.Path, Type: ChangeEdited, StagedHash: change.NewHash, Size: change.NewSize}
	}
}

func (ws *Workspace) requireClean() error {
	pending, err := ws.ledger.listPending()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d staged paths", ErrPendingChanges, len(pending))
	}
	resolves, err := ws.ledger.listResolves()
	if err != nil {
		return err
	}
	if len(resolves) > 0 {
		return fmt.Errorf("%w: %d paths", ErrPendingResolves, len(resolves))
	}
	return nil
}

// LockFile takes an advisory lock on a path in the current branch's domain.
func (ws *Workspace) LockFile(ctx context.Context, raw string) error {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return err
	}
	branch, err := ws.idx.GetBranch(ctx, ws.Branch)
	if err != nil {
		return err
	}
	return ws.idx.Lock(ctx, &index.Lock{
		LockDomainID: branch.LockDomainID,
		Path:         path,
		WorkspaceID:  ws.ID,
		Branch:       ws.Branch,
	})
}

// UnlockFile releases a lock in the current branch's domain.
func (ws *Workspace) UnlockFile(ctx context.Context, raw string) error {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return err
	}
	branch, err := ws.idx.GetBranch(ctx, ws.Branch)
	if err != nil {
		return err
	}
	return ws.idx.Unlock(ctx, branch.LockDomainID, path)
}

// Locks lists every lock in the current branch's domain.
func (ws *Workspace) Locks(ctx context.Context) ([]*index.Lock, error) {
	branch, err := ws.idx.GetBranch(ctx, ws.Branch)
	if err != nil {
		return nil, err
	}
	return ws.idx.ListLocks(ctx, branch.LockDomainID)
}
