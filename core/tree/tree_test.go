package tree

import (
	"encoding/json"
	"testing"
)

func fileEntry(name, content string) Entry {
	hash := ComputeContentHash([]byte(content))
	return Entry{
		Name: name,
		Kind: EntryFile,
		Hash: [HashSize]byte(hash),
		Size: int64(len(content)),
	}
}

func TestTreeID(t *testing.T) {
	t.Run("insertion order does not matter", func(t *testing.T) {
		a := BuildTree([]Entry{fileEntry("x", "1"), fileEntry("y", "2"), fileEntry("z", "3")})
		b := BuildTree([]Entry{fileEntry("z", "3"), fileEntry("x", "1"), fileEntry("y", "2")})

		if a.ID() != b.ID() {
			t.Errorf("expected identical ids, got %s and %s", a.ID().Short(), b.ID().Short())
		}
	})

	t.Run("content changes the id", func(t *testing.T) {
		a := BuildTree([]Entry{fileEntry("x", "1")})
		b := BuildTree([]Entry{fileEntry("x", "2")})

		if a.ID() == b.ID() {
			t.Error("expected different ids for different content")
		}
	})

	t.Run("empty tree has a stable id", func(t *testing.T) {
		if NewTree().ID() != NewTree().ID() {
			t.Error("empty tree id must be deterministic")
		}
	})
}

func TestTreeUpsert(t *testing.T) {
	tr := NewTree()
	tr.Upsert(fileEntry("b", "2"))
	tr.Upsert(fileEntry("a", "1"))
	tr.Upsert(fileEntry("c", "3"))

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].Name != want {
			t.Errorf("entry %d: want %q, got %q", i, want, entries[i].Name)
		}
	}

	tr.Upsert(fileEntry("b", "changed"))
	if tr.Len() != 3 {
		t.Errorf("upsert of existing name must replace, got %d entries", tr.Len())
	}
	entry, ok := tr.Get("b")
	if !ok {
		t.Fatal("entry b missing")
	}
	if entry.ContentHash() != ComputeContentHash([]byte("changed")) {
		t.Error("entry b not replaced")
	}
}

func TestTreeRemove(t *testing.T) {
	tr := BuildTree([]Entry{fileEntry("a", "1"), fileEntry("b", "2")})

	if err := tr.Remove("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tr.Get("a"); ok {
		t.Error("entry a still present after remove")
	}
	if err := tr.Remove("missing"); err != ErrEntryNotFound {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestTreeJSONRoundTrip(t *testing.T) {
	subtree := BuildTree([]Entry{fileEntry("inner", "data")})
	tr := BuildTree([]Entry{
		fileEntry("readme.md", "hello"),
		{Name: "src", Kind: EntryDirectory, Hash: [HashSize]byte(subtree.ID()), Size: 0},
	})

	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Tree
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.ID() != tr.ID() {
		t.Errorf("round trip changed id: %s vs %s", decoded.ID().Short(), tr.ID().Short())
	}
	dir, ok := decoded.Get("src")
	if !ok {
		t.Fatal("src entry missing")
	}
	if dir.Kind != EntryDirectory {
		t.Errorf("want directory kind, got %v", dir.Kind)
	}
	if dir.SubtreeID() != subtree.ID() {
		t.Error("subtree id lost in round trip")
	}
}

func TestParseHashes(t *testing.T) {
	hash := ComputeContentHash([]byte("payload"))

	parsed, err := ParseContentHash(hash.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != hash {
		t.Error("content hash round trip mismatch")
	}

	if _, err := ParseContentHash("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
	if _, err := ParseContentHash("abcd"); err == nil {
		t.Error("expected error for short input")
	}

	id := BuildTree([]Entry{fileEntry("a", "1")}).ID()
	parsedID, err := ParseTreeID(id.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsedID != id {
		t.Error("tree id round trip mismatch")
	}
}
