package tree

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type memoryTreeStore struct {
	trees map[TreeID]*Tree
}

func newMemoryTreeStore() *memoryTreeStore {
	return &memoryTreeStore{trees: make(map[TreeID]*Tree)}
}

func (s *memoryTreeStore) GetTree(ctx context.Context, id TreeID) (*Tree, error) {
	tr, ok := s.trees[id]
	if !ok {
		return nil, errors.New("tree not found")
	}
	return tr.Clone(), nil
}

func (s *memoryTreeStore) save(tr *Tree) TreeID {
	id := tr.ID()
	s.trees[id] = tr.Clone()
	return id
}

// build stores a nested snapshot from a flat path -> content map.
func (s *memoryTreeStore) build(t *testing.T, files map[string]string) TreeID {
	t.Helper()

	type node struct {
		children map[string]*node
		content  *string
	}
	root := &node{children: make(map[string]*node)}
	for path, content := range files {
		current := root
		segments := strings.Split(path, "/")
		for i, segment := range segments {
			if i == len(segments)-1 {
				body := content
				current.children[segment] = &node{content: &body}
				continue
			}
			next, ok := current.children[segment]
			if !ok {
				next = &node{children: make(map[string]*node)}
				current.children[segment] = next
			}
			current = next
		}
	}

	var store func(n *node) TreeID
	store = func(n *node) TreeID {
		tr := NewTree()
		for name, child := range n.children {
			if child.content != nil {
				tr.Upsert(fileEntry(name, *child.content))
				continue
			}
			subID := store(child)
			tr.Upsert(Entry{Name: name, Kind: EntryDirectory, Hash: [HashSize]byte(subID)})
		}
		return s.save(tr)
	}
	return store(root)
}

func changesByPath(changes []Change) map[CanonicalPath]Change {
	result := make(map[CanonicalPath]Change, len(changes))
	for _, change := range changes {
		result[change.Path] = change
	}
	return result
}

func TestDiff(t *testing.T) {
	ctx := context.Background()

	t.Run("identical trees yield no changes", func(t *testing.T) {
		store := newMemoryTreeStore()
		id := store.build(t, map[string]string{"a.txt": "1", "dir/b.txt": "2"})

		changes, err := Diff(ctx, store, id, id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(changes) != 0 {
			t.Errorf("want no changes, got %v", changes)
		}
	})

	t.Run("add modify delete across directories", func(t *testing.T) {
		store := newMemoryTreeStore()
		oldID := store.build(t, map[string]string{
			"a.txt":     "one",
			"dir/b.txt": "two",
			"dir/c.txt": "three",
		})
		newID := store.build(t, map[string]string{
			"a.txt":     "one changed",
			"dir/b.txt": "two",
			"dir/d.txt": "four",
		})

		changes, err := Diff(ctx, store, oldID, newID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		byPath := changesByPath(changes)
		if len(byPath) != 3 {
			t.Fatalf("want 3 changes, got %v", changes)
		}
		if byPath["a.txt"].Type != ChangeModified {
			t.Errorf("a.txt: want modified, got %v", byPath["a.txt"].Type)
		}
		if byPath["dir/c.txt"].Type != ChangeDeleted {
			t.Errorf("dir/c.txt: want deleted, got %v", byPath["dir/c.txt"].Type)
		}
		if byPath["dir/d.txt"].Type != ChangeAdded {
			t.Errorf("dir/d.txt: want added, got %v", byPath["dir/d.txt"].Type)
		}
	})

	t.Run("zero old id means everything added", func(t *testing.T) {
		store := newMemoryTreeStore()
		newID := store.build(t, map[string]string{"x.txt": "1", "d/y.txt": "2"})

		changes, err := Diff(ctx, store, TreeID{}, newID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(changes) != 2 {
			t.Fatalf("want 2 additions, got %v", changes)
		}
		for _, change := range changes {
			if change.Type != ChangeAdded {
				t.Errorf("%s: want added, got %v", change.Path, change.Type)
			}
		}
	})

	t.Run("detects rename by content hash", func(t *testing.T) {
		store := newMemoryTreeStore()
		oldID := store.build(t, map[string]string{"old/name.txt": "same bytes"})
		newID := store.build(t, map[string]string{"new/name.txt": "same bytes"})

		changes, err := Diff(ctx, store, oldID, newID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(changes) != 1 {
			t.Fatalf("want 1 change, got %v", changes)
		}
		change := changes[0]
		if change.Type != ChangeRenamed {
			t.Fatalf("want renamed, got %v", change.Type)
		}
		if change.OldPath != "old/name.txt" || change.Path != "new/name.txt" {
			t.Errorf("rename endpoints wrong: %q -> %q", change.OldPath, change.Path)
		}
	})

	t.Run("file replaced by directory", func(t *testing.T) {
		store := newMemoryTreeStore()
		oldID := store.build(t, map[string]string{"thing": "flat file"})
		newID := store.build(t, map[string]string{"thing/nested.txt": "inside"})

		changes, err := Diff(ctx, store, oldID, newID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		byPath := changesByPath(changes)
		if byPath["thing"].Type != ChangeDeleted {
			t.Errorf("thing: want deleted, got %v", byPath["thing"].Type)
		}
		if byPath["thing/nested.txt"].Type != ChangeAdded {
			t.Errorf("thing/nested.txt: want added, got %v", byPath["thing/nested.txt"].Type)
		}
	})
}
