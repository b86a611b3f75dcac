package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/tree"
)

// Add stages a new file. The file has to exist on disk and must not already
// be tracked by the base snapshot or the ledger.
func (ws *Workspace) Add(ctx context.Context, raw string) (PendingChange, error) {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return PendingChange{}, err
	}
	if ws.ignore.Match(path) {
		return PendingChange{}, fmt.Errorf("%w: %s", ErrPathIgnored, path)
	}

	if _, found, err := ws.ledger.getPending(path); err != nil {
		return PendingChange{}, err
	} else if found {
		return PendingChange{}, fmt.Errorf("%w: %s", ErrAlreadyTracked, path)
	}

	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return PendingChange{}, err
	}
	if _, tracked, err := ws.findEntry(ctx, rootID, path); err != nil {
		return PendingChange{}, err
	} else if tracked {
		return PendingChange{}, fmt.Errorf("%w: %s", ErrAlreadyTracked, path)
	}

	change, err := ws.stageContent(ctx, path, ChangeAdded)
	if err != nil {
		return PendingChange{}, err
	}
	return change, nil
}

// Edit stages a modification to an already tracked file. Re-editing simply
// refreshes the staged hash.
func (ws *Workspace) Edit(ctx context.Context, raw string) (PendingChange, error) {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return PendingChange{}, err
	}

	pending, found, err := ws.ledger.getPending(path)
	if err != nil {
		return PendingChange{}, err
	}
	if found {
		if pending.Type == ChangeDeleted {
			return PendingChange{}, fmt.Errorf("%w: %s is staged for deletion", ErrNotTracked, path)
		}
		// Keep the original staging kind so an added file stays an add.
		return ws.stageContent(ctx, path, pending.Type)
	}

	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return PendingChange{}, err
	}
	entry, tracked, err := ws.findEntry(ctx, rootID, path)
	if err != nil {
		return PendingChange{}, err
	}
	if !tracked || entry.Kind != tree.EntryFile {
		return PendingChange{}, fmt.Errorf("%w: %s", ErrNotTracked, path)
	}
	return ws.stageContent(ctx, path, ChangeEdited)
}

// Delete stages a removal. Deleting a file that was only staged as an add
// just drops the add.
func (ws *Workspace) Delete(ctx context.Context, raw string) (PendingChange, error) {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return PendingChange{}, err
	}

	pending, found, err := ws.ledger.getPending(path)
	if err != nil {
		return PendingChange{}, err
	}
	if found && pending.Type == ChangeAdded {
		if err := ws.ledger.deletePending(path); err != nil {
			return PendingChange{}, err
		}
		if err := ws.removeFile(path); err != nil {
			return PendingChange{}, err
		}
		return PendingChange{Path: path, Type: ChangeDeleted}, nil
	}

	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return PendingChange{}, err
	}
	entry, tracked, err := ws.findEntry(ctx, rootID, path)
	if err != nil {
		return PendingChange{}, err
	}
	if !tracked || entry.Kind != tree.EntryFile {
		return PendingChange{}, fmt.Errorf("%w: %s", ErrNotTracked, path)
	}

	change := PendingChange{Path: path, Type: ChangeDeleted}
	if err := ws.ledger.putPending(change); err != nil {
		return PendingChange{}, err
	}
	if err := ws.removeFile(path); err != nil {
		return PendingChange{}, err
	}
	return change, nil
}

// stageContent hashes the working copy, uploads the blob, and records the
// pending change. The blob write is idempotent, so restaging is cheap.
func (ws *Workspace) stageContent(ctx context.Context, path tree.CanonicalPath, kind ChangeType) (PendingChange, error) {
	content, err := ws.readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return PendingChange{}, fmt.Errorf("%w: %s is missing on disk", ErrNotTracked, path)
	}
	if err != nil {
		return PendingChange{}, fmt.Errorf("stage %s: %w", path, err)
	}

	hash := tree.ComputeContentHash(content)
	if _, err := ws.blobs.Write(ctx, content); err != nil {
		return PendingChange{}, fmt.Errorf("stage %s: %w", path, err)
	}

	change := PendingChange{
		Path:       path,
		Type:       kind,
		StagedHash: hash,
		Size:       int64(len(content)),
	}
	if err := ws.ledger.putPending(change); err != nil {
		return PendingChange{}, err
	}
	return change, nil
}

// BaseContent returns the content a path has in the recorded head snapshot,
// or nil when the path does not exist there.
func (ws *Workspace) BaseContent(ctx context.Context, raw string) ([]byte, error) {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return nil, err
	}
	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return nil, err
	}
	entry, found, err := ws.findEntry(ctx, rootID, path)
	if err != nil {
		return nil, err
	}
	if !found || entry.Kind != tree.EntryFile {
		return nil, nil
	}
	return ws.blobs.Read(ctx, entry.ContentHash())
}

// Revert drops the staged change for one path and restores the base content.
func (ws *Workspace) Revert(ctx context.Context, raw string) error {
	path, err := ws.canonicalize(raw)
	if err != nil {
		return err
	}

	_, staged, err := ws.ledger.getPending(path)
	if err != nil {
		return err
	}
	_, resolving, err := ws.ledger.getResolve(path)
	if err != nil {
		return err
	}
	if !staged && !resolving {
		return fmt.Errorf("%w: %s", ErrNothingToRevert, path)
	}
	return ws.revertPath(ctx, path)
}

// RevertAll drops every staged change and unresolved conflict, restoring the
// workspace to its recorded head.
func (ws *Workspace) RevertAll(ctx context.Context) error {
	pending, err := ws.ledger.listPending()
	if err != nil {
		return err
	}
	resolves, err := ws.ledger.listResolves()
	if err != nil {
		return err
	}
	if len(pending) == 0 && len(resolves) == 0 {
		return ErrNothingToRevert
	}

	seen := make(map[tree.CanonicalPath]bool)
	for _, change := range pending {
		seen[change.Path] = true
		if err := ws.revertPath(ctx, change.Path); err != nil {
			return err
		}
	}
	for _, entry := range resolves {
		if seen[entry.Path] {
			continue
		}
		if err := ws.revertPath(ctx, entry.Path); err != nil {
			return err
		}
	}
	return nil
}

func (ws *Workspace) revertPath(ctx context.Context, path tree.CanonicalPath) error {
	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return err
	}
	entry, tracked, err := ws.findEntry(ctx, rootID, path)
	if err != nil {
		return err
	}

	if tracked && entry.Kind == tree.EntryFile {
		if err := ws.writeFileFromBlob(ctx, path, entry.ContentHash()); err != nil {
			return err
		}
	} else {
		if err := ws.removeFile(path); err != nil {
			return err
		}
	}

	if err := ws.ledger.deletePending(path); err != nil {
		return err
	}
	return ws.ledger.deleteResolve(path)
}

// StatusEntry is one staged change annotated with how the working copy
// relates to it.
type StatusEntry struct {
	Change PendingChange

	// Drifted means the disk content no longer matches the staged hash.
	Drifted bool

	// Unchanged means an edit whose staged content is byte-identical to
	// the base snapshot. Commit rejects these.
	Unchanged bool
}

// Status is a full snapshot of the workspace state machine.
type Status struct {
	Branch   string
	Head     commit.CommitID
	Staged   []StatusEntry
	Resolves []ResolvePending
}

// Clean reports whether the workspace carries no staged changes and no
// unresolved conflicts.
func (s Status) Clean() bool {
	return len(s.Staged) == 0 && len(s.Resolves) == 0
}

// Status inspects the ledger and working copy without mutating either.
func (ws *Workspace) Status(ctx context.Context) (Status, error) {
	status := Status{Branch: ws.Branch, Head: ws.Head}

	pending, err := ws.ledger.listPending()
	if err != nil {
		return Status{}, err
	}

	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return Status{}, err
	}

	for _, change := range pending {
		entry := StatusEntry{Change: change}

		if change.Type != ChangeDeleted {
			diskHash, _, err := ws.hashFile(change.Path)
			if errors.Is(err, os.ErrNotExist) {
				entry.Drifted = true
			} else if err != nil {
				return Status{}, fmt.Errorf("status %s: %w", change.Path, err)
			} else if !diskHash.Equal(change.StagedHash) {
				entry.Drifted = true
			}
		}

		if change.Type == ChangeEdited {
			base, tracked, err := ws.findEntry(ctx, rootID, change.Path)
			if err != nil {
				return Status{}, err
			}
			if tracked && base.ContentHash().Equal(change.StagedHash) {
				entry.Unchanged = true
			}
		}

		status.Staged = append(status.Staged, entry)
	}

	resolves, err := ws.ledger.listResolves()
	if err != nil {
		return Status{}, err
	}
	status.Resolves = resolves
	return status, nil
}
