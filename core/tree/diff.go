package tree

import (
	"context"
	"fmt"
	"sort"
)

// Reader resolves tree ids to stored trees. The index backends satisfy it.
type Reader interface {
	GetTree(ctx context.Context, id TreeID) (*Tree, error)
}

type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeModified
	ChangeDeleted
	ChangeRenamed
)

var changeTypeNames = map[ChangeType]string{
	ChangeAdded:    "added",
	ChangeModified: "modified",
	ChangeDeleted:  "deleted",
	ChangeRenamed:  "renamed",
}

func (t ChangeType) String() string {
	if name, ok := changeTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Change is a single file-level difference between two snapshots. For
// renames, OldPath carries the previous location.
type Change struct {
	Path    CanonicalPath
	OldPath CanonicalPath
	Type    ChangeType
	OldHash ContentHash
	NewHash ContentHash
	NewSize int64
}

type diffFrame struct {
	prefix CanonicalPath
	oldID  TreeID
	newID  TreeID
}

// Diff walks two snapshots and reports every file that differs between them.
// A zero id on either side stands for an absent (empty) tree. The walk is
// iterative with an explicit work list, so arbitrarily deep hierarchies never
// hit recursion limits. Deleted/added pairs with identical content hashes are
// folded into renames.
func Diff(ctx context.Context, reader Reader, oldID, newID TreeID) ([]Change, error) {
	if oldID == newID {
		return nil, nil
	}

	var changes []Change
	work := []diffFrame{{oldID: oldID, newID: newID}}

	for len(work) > 0 {
		frame := work[len(work)-1]
		work = work[:len(work)-1]

		oldTree, err := loadOrEmpty(ctx, reader, frame.oldID)
		if err != nil {
			return nil, fmt.Errorf("diff %q: %w", frame.prefix, err)
		}
		newTree, err := loadOrEmpty(ctx, reader, frame.newID)
		if err != nil {
			return nil, fmt.Errorf("diff %q: %w", frame.prefix, err)
		}

		pairs := pairEntries(oldTree, newTree)
		for _, pair := range pairs {
			path := childPath(frame.prefix, pair.name)

			switch {
			case pair.old != nil && pair.new != nil:
				if pair.old.Hash == pair.new.Hash && pair.old.Kind == pair.new.Kind {
					continue
				}
				if pair.old.Kind == EntryDirectory || pair.new.Kind == EntryDirectory {
					work = append(work, diffFrame{
						prefix: path,
						oldID:  subtreeOrZero(pair.old),
						newID:  subtreeOrZero(pair.new),
					})
					if pair.old.Kind == EntryFile {
						changes = append(changes, Change{Path: path, Type: ChangeDeleted, OldHash: pair.old.ContentHash()})
					}
					if pair.new.Kind == EntryFile {
						changes = append(changes, Change{Path: path, Type: ChangeAdded, NewHash: pair.new.ContentHash(), NewSize: pair.new.Size})
					}
					continue
				}
				changes = append(changes, Change{
					Path:    path,
					Type:    ChangeModified,
					OldHash: pair.old.ContentHash(),
					NewHash: pair.new.ContentHash(),
					NewSize: pair.new.Size,
				})

			case pair.old != nil:
				if pair.old.Kind == EntryDirectory {
					work = append(work, diffFrame{prefix: path, oldID: pair.old.SubtreeID()})
					continue
				}
				changes = append(changes, Change{Path: path, Type: ChangeDeleted, OldHash: pair.old.ContentHash()})

			default:
				if pair.new.Kind == EntryDirectory {
					work = append(work, diffFrame{prefix: path, newID: pair.new.SubtreeID()})
					continue
				}
				changes = append(changes, Change{Path: path, Type: ChangeAdded, NewHash: pair.new.ContentHash(), NewSize: pair.new.Size})
			}
		}
	}

	changes = detectRenames(changes)
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes, nil
}

func loadOrEmpty(ctx context.Context, reader Reader, id TreeID) (*Tree, error) {
	if id.IsZero() {
		return NewTree(), nil
	}
	return reader.GetTree(ctx, id)
}

func childPath(prefix CanonicalPath, name string) CanonicalPath {
	return prefix.Child(name)
}

func subtreeOrZero(entry *Entry) TreeID {
	if entry == nil || entry.Kind != EntryDirectory {
		return TreeID{}
	}
	return entry.SubtreeID()
}

type entryPair struct {
	name string
	old  *Entry
	new  *Entry
}

// pairEntries merges two sorted entry lists by name.
func pairEntries(oldTree, newTree *Tree) []entryPair {
	oldEntries := oldTree.Entries()
	newEntries := newTree.Entries()

	pairs := make([]entryPair, 0, len(oldEntries)+len(newEntries))
	i, j := 0, 0
	for i < len(oldEntries) || j < len(newEntries) {
		switch {
		case j >= len(newEntries) || (i < len(oldEntries) && oldEntries[i].Name < newEntries[j].Name):
			pairs = append(pairs, entryPair{name: oldEntries[i].Name, old: &oldEntries[i]})
			i++
		case i >= len(oldEntries) || newEntries[j].Name < oldEntries[i].Name:
			pairs = append(pairs, entryPair{name: newEntries[j].Name, new: &newEntries[j]})
			j++
		default:
			pairs = append(pairs, entryPair{name: oldEntries[i].Name, old: &oldEntries[i], new: &newEntries[j]})
			i++
			j++
		}
	}
	return pairs
}

// detectRenames pairs each addition with an unconsumed deletion carrying the
// same content hash. Matching is deterministic: candidates are taken in the
// order the walk produced them.
func detectRenames(changes []Change) []Change {
	deletedByHash := make(map[ContentHash][]int)
	for idx, change := range changes {
		if change.Type == ChangeDeleted {
			deletedByHash[change.OldHash] = append(deletedByHash[change.OldHash], idx)
		}
	}

	renamedFrom := make(map[int]int)
	consumedDeletes := make(map[int]bool)
	for idx, change := range changes {
		if change.Type != ChangeAdded {
			continue
		}
		candidates := deletedByHash[change.NewHash]
		if len(candidates) == 0 {
			continue
		}
		deletedByHash[change.NewHash] = candidates[1:]
		renamedFrom[idx] = candidates[0]
		consumedDeletes[candidates[0]] = true
	}

	result := make([]Change, 0, len(changes))
	for idx, change := range changes {
		if consumedDeletes[idx] {
			continue
		}
		if deletedIdx, ok := renamedFrom[idx]; ok {
			result = append(result, Change{
				Path:    change.Path,
				OldPath: changes[deletedIdx].Path,
				Type:    ChangeRenamed,
				OldHash: changes[deletedIdx].OldHash,
				NewHash: change.NewHash,
				NewSize: change.NewSize,
			})
			continue
		}
		result = append(result, change)
	}
	return result
}
