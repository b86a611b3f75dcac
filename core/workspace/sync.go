package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/tree"
)

// SyncReport summarizes what a sync did: the tree changes applied to disk
// and the paths parked for conflict resolution.
type SyncReport struct {
	From     commit.CommitID
	To       commit.CommitID
	Applied  []tree.Change
	Deferred []ResolvePending
}

// Sync advances the workspace to the current branch head.
func (ws *Workspace) Sync(ctx context.Context) (SyncReport, error) {
	branch, err := ws.idx.GetBranch(ctx, ws.Branch)
	if err != nil {
		return SyncReport{}, err
	}
	return ws.SyncTo(ctx, branch.Head)
}

// SyncTo advances the workspace to an arbitrary target commit. Upstream
// changes touching a staged path are not applied; they are recorded as
// pending resolves and the staged content stays on disk. The head always
// advances, so a later commit races only against writers newer than target.
func (ws *Workspace) SyncTo(ctx context.Context, target commit.CommitID) (SyncReport, error) {
	report := SyncReport{From: ws.Head, To: target}
	if target.Equal(ws.Head) {
		return report, nil
	}

	oldRoot, err := ws.rootTree(ctx)
	if err != nil {
		return SyncReport{}, err
	}
	targetCommit, err := ws.idx.GetCommit(ctx, target)
	if err != nil {
		return SyncReport{}, err
	}

	changes, err := tree.Diff(ctx, ws.idx, oldRoot, targetCommit.RootTree)
	if err != nil {
		return SyncReport{}, err
	}

	staged, err := ws.stagedPaths()
	if err != nil {
		return SyncReport{}, err
	}

	// Renames are handled as their delete and add halves so a staged edit
	// under either path defers that half instead of being clobbered.
	byPath := expandChanges(changes)
	paths := make([]tree.CanonicalPath, 0, len(byPath))
	for path := range byPath {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	for _, path := range paths {
		change := byPath[path]

		if staged[path] {
			deferred, found, err := ws.ledger.getResolve(path)
			if err != nil {
				return SyncReport{}, err
			}
			if found {
				// A still-unresolved path keeps the base its local edit
				// diverged from; only the upstream side moves.
				deferred.TheirsCommit = target
			} else {
				deferred = ResolvePending{
					Path:         path,
					BaseCommit:   ws.Head,
					TheirsCommit: target,
				}
			}
			if err := ws.ledger.putResolve(deferred); err != nil {
				return SyncReport{}, err
			}
			report.Deferred = append(report.Deferred, deferred)
			continue
		}

		switch change.Type {
		case tree.ChangeAdded, tree.ChangeModified:
			if err := ws.writeFileFromBlob(ctx, path, change.NewHash); err != nil {
				return SyncReport{}, err
			}
		case tree.ChangeDeleted:
			if err := ws.removeFile(path); err != nil {
				return SyncReport{}, err
			}
		}
		report.Applied = append(report.Applied, change)
	}

	ws.Head = target
	if err := ws.saveConfig(); err != nil {
		return SyncReport{}, err
	}
	return report, nil
}

func (ws *Workspace) stagedPaths() (map[tree.CanonicalPath]bool, error) {
	pending, err := ws.ledger.listPending()
	if err != nil {
		return nil, err
	}
	resolves, err := ws.ledger.listResolves()
	if err != nil {
		return nil, err
	}

	staged := make(map[tree.CanonicalPath]bool, len(pending)+len(resolves))
	for _, change := range pending {
		staged[change.Path] = true
	}
	for _, entry := range resolves {
		staged[entry.Path] = true
	}
	return staged, nil
}

// ConflictSides is the base, local, and upstream content for a pending
// resolve. A nil slice means the file does not exist on that side.
type ConflictSides struct {
	Base   []byte
	Ours   []byte
	Theirs []byte
}

// ConflictContents loads the three sides of a pending conflict.
func (ws *Workspace) ConflictContents(ctx context.Context, raw string) (ConflictSides, error) {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return ConflictSides{}, err
	}
	entry, found, err := ws.ledger.getResolve(path)
	if err != nil {
		return ConflictSides{}, err
	}
	if !found {
		return ConflictSides{}, fmt.Errorf("%w: %s", ErrNoResolvePending, path)
	}
	return ws.loadConflictSides(ctx, entry)
}

func (ws *Workspace) loadConflictSides(ctx context.Context, entry ResolvePending) (ConflictSides, error) {
	var sides ConflictSides

	base, err := ws.contentAtCommit(ctx, entry.BaseCommit, entry.Path)
	if err != nil {
		return ConflictSides{}, err
	}
	sides.Base = base

	theirs, err := ws.contentAtCommit(ctx, entry.TheirsCommit, entry.Path)
	if err != nil {
		return ConflictSides{}, err
	}
	sides.Theirs = theirs

	ours, err := ws.readFile(entry.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ConflictSides{}, fmt.Errorf("read %s: %w", entry.Path, err)
	}
	sides.Ours = ours
	return sides, nil
}

// contentAtCommit returns the file content at path in the given commit, or
// nil when the path does not exist there.
func (ws *Workspace) contentAtCommit(ctx context.Context, id commit.CommitID, path tree.CanonicalPath) ([]byte, error) {
	if id.IsZero() {
		return nil, nil
	}
	c, err := ws.idx.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, found, err := ws.findEntry(ctx, c.RootTree, path)
	if err != nil {
		return nil, err
	}
	if !found || entry.Kind != tree.EntryFile {
		return nil, nil
	}
	return ws.blobs.Read(ctx, entry.ContentHash())
}

// Resolve reconciles one deferred path with a three-way merge. Text files
// that merge cleanly land on disk and in the ledger as a staged change;
// binary files and conflicting text stay pending until reverted or
// overwritten by hand and resolved again with force.
func (ws *Workspace) Resolve(ctx context.Context, raw string, force bool) error {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return err
	}
	entry, found, err := ws.ledger.getResolve(path)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNoResolvePending, path)
	}

	if force {
		// The disk content wins as-is.
		return ws.finishResolve(ctx, path)
	}

	sides, err := ws.loadConflictSides(ctx, entry)
	if err != nil {
		return err
	}

	// Upstream deleted the file: the local change survives as the new
	// content, which finishResolve stages as an add.
	if sides.Theirs == nil {
		return ws.finishResolve(ctx, path)
	}
	// The local side deleted the file: keep the staged delete.
	if sides.Ours == nil {
		return ws.finishResolve(ctx, path)
	}

	if isBinary(sides.Base) || isBinary(sides.Ours) || isBinary(sides.Theirs) {
		return fmt.Errorf("%w: %s is binary, resolve by hand and rerun with force", ErrMergeConflict, path)
	}

	merged, conflict := mergeContent(sides.Base, sides.Ours, sides.Theirs)
	if conflict {
		return &MergeConflictError{Paths: []tree.CanonicalPath{path}}
	}

	target := ws.absPath(path)
	if err := os.WriteFile(target, merged, 0o644); err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	return ws.finishResolve(ctx, path)
}

// finishResolve restages the on-disk outcome against the advanced head and
// drops the resolve record.
func (ws *Workspace) finishResolve(ctx context.Context, path tree.CanonicalPath) error {
	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return err
	}
	headEntry, inHead, err := ws.findEntry(ctx, rootID, path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(ws.absPath(path)); errors.Is(err, os.ErrNotExist) {
		// The local outcome is a deletion.
		if inHead && headEntry.Kind == tree.EntryFile {
			if err := ws.ledger.putPending(PendingChange{Path: path, Type: ChangeDeleted}); err != nil {
				return err
			}
		} else if err := ws.ledger.deletePending(path); err != nil {
			return err
		}
		return ws.ledger.deleteResolve(path)
	}

	kind := ChangeAdded
	if inHead {
		kind = ChangeEdited
	}
	if _, err := ws.stageContent(ctx, path, kind); err != nil {
		return err
	}
	return ws.ledger.deleteResolve(path)
}
