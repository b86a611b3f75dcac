package tree

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"
)

var (
	ErrEntryNotFound = errors.New("tree entry not found")
)

type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDirectory
)

var entryKindNames = map[EntryKind]string{
	EntryFile:      "file",
	EntryDirectory: "directory",
}

func (k EntryKind) String() string {
	if name, ok := entryKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Entry is a single name inside a directory snapshot. For files, Hash is the
// blob content address; for directories it carries the subtree's id.
type Entry struct {
	Name string
	Kind EntryKind
	Hash [HashSize]byte
	Size int64
}

// SubtreeID reinterprets the entry hash as a tree id. Only meaningful for
// directory entries.
func (e Entry) SubtreeID() TreeID {
	return TreeID(e.Hash)
}

// ContentHash reinterprets the entry hash as a blob address. Only meaningful
// for file entries.
func (e Entry) ContentHash() ContentHash {
	return ContentHash(e.Hash)
}

// Tree is an immutable-once-written directory snapshot: a list of entries
// kept sorted by name so the same logical content always serializes, and
// therefore hashes, identically.
type Tree struct {
	entries []Entry
}

func NewTree() *Tree {
	return &Tree{}
}

// BuildTree constructs a tree from entries in any order.
func BuildTree(entries []Entry) *Tree {
	t := NewTree()
	for _, entry := range entries {
		t.Upsert(entry)
	}
	return t
}

// Upsert inserts entry at its sorted position, replacing any entry with the
// same name.
func (t *Tree) Upsert(entry Entry) {
	idx := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Name >= entry.Name
	})
	if idx < len(t.entries) && t.entries[idx].Name == entry.Name {
		t.entries[idx] = entry
		return
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = entry
}

// Remove deletes the named entry if present.
func (t *Tree) Remove(name string) error {
	idx := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Name >= name
	})
	if idx >= len(t.entries) || t.entries[idx].Name != name {
		return ErrEntryNotFound
	}
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	return nil
}

// Get returns the named entry.
func (t *Tree) Get(name string) (Entry, bool) {
	idx := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Name >= name
	})
	if idx < len(t.entries) && t.entries[idx].Name == name {
		return t.entries[idx], true
	}
	return Entry{}, false
}

// Entries returns a copy of the sorted entry list.
func (t *Tree) Entries() []Entry {
	result := make([]Entry, len(t.entries))
	copy(result, t.entries)
	return result
}

func (t *Tree) Len() int {
	return len(t.entries)
}

// ID hashes the canonical serialization. Two trees with the same entry set
// always share an id, which is what makes saving a tree idempotent.
func (t *Tree) ID() TreeID {
	h := sha256.New()
	var size [8]byte
	for _, entry := range t.entries {
		h.Write([]byte{byte(entry.Kind)})
		h.Write([]byte(entry.Name))
		h.Write([]byte{0})
		h.Write(entry.Hash[:])
		binary.BigEndian.PutUint64(size[:], uint64(entry.Size))
		h.Write(size[:])
	}
	var id TreeID
	copy(id[:], h.Sum(nil))
	return id
}

// Clone returns an independent copy.
func (t *Tree) Clone() *Tree {
	return &Tree{entries: t.Entries()}
}
