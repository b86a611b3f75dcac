package workspace

import (
	"context"
	"fmt"

	"github.com/adalundhe/quarry/core/tree"
)

// treePatch is a trie of staged changes, one node per directory, used to
// rebuild the snapshot bottom-up so only touched subtrees get new IDs.
type treePatch struct {
	files map[string]PendingChange
	dirs  map[string]*treePatch
}

func newTreePatch() *treePatch {
	return &treePatch{
		files: make(map[string]PendingChange),
		dirs:  make(map[string]*treePatch),
	}
}

func (p *treePatch) insert(change PendingChange) {
	node := p
	segments := change.Path.Segments()
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node.dirs[segment]
		if !ok {
			child = newTreePatch()
			node.dirs[segment] = child
		}
		node = child
	}
	node.files[segments[len(segments)-1]] = change
}

// applyTreeChanges rewrites the base snapshot with the staged changes and
// persists every rebuilt subtree. Directories left empty are pruned.
func (ws *Workspace) applyTreeChanges(ctx context.Context, baseRoot tree.TreeID, changes []PendingChange) (tree.TreeID, error) {
	patch := newTreePatch()
	for _, change := range changes {
		patch.insert(change)
	}

	root, err := ws.rebuildSubtree(ctx, baseRoot, patch)
	if err != nil {
		return tree.TreeID{}, err
	}
	return ws.idx.SaveTree(ctx, root)
}

func (ws *Workspace) rebuildSubtree(ctx context.Context, baseID tree.TreeID, patch *treePatch) (*tree.Tree, error) {
	current := tree.NewTree()
	if !baseID.IsZero() {
		base, err := ws.idx.GetTree(ctx, baseID)
		if err != nil {
			return nil, err
		}
		current = base.Clone()
	}

	for name, child := range patch.dirs {
		childBase := tree.TreeID{}
		if entry, ok := current.Get(name); ok && entry.Kind == tree.EntryDirectory {
			childBase = entry.SubtreeID()
		}

		rebuilt, err := ws.rebuildSubtree(ctx, childBase, child)
		if err != nil {
			return nil, err
		}
		if rebuilt.Len() == 0 {
			_ = current.Remove(name)
			continue
		}

		childID, err := ws.idx.SaveTree(ctx, rebuilt)
		if err != nil {
			return nil, err
		}
		current.Upsert(tree.Entry{
			Name: name,
			Kind: tree.EntryDirectory,
			Hash: [tree.HashSize]byte(childID),
		})
	}

	for name, change := range patch.files {
		switch change.Type {
		case ChangeAdded, ChangeEdited:
			current.Upsert(tree.Entry{
				Name: name,
				Kind: tree.EntryFile,
				Hash: [tree.HashSize]byte(change.StagedHash),
				Size: change.Size,
			})
		case ChangeDeleted:
			_ = current.Remove(name)
		default:
			return nil, fmt.Errorf("unknown change type %d for %s", change.Type, change.Path)
		}
	}

	return current, nil
}
