package commit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adalundhe/quarry/core/tree"
)

type memoryCommitStore struct {
	commits map[CommitID]*Commit
	clock   time.Time
}

func newMemoryCommitStore() *memoryCommitStore {
	return &memoryCommitStore{
		commits: make(map[CommitID]*Commit),
		clock:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memoryCommitStore) GetCommit(ctx context.Context, id CommitID) (*Commit, error) {
	c, ok := s.commits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *memoryCommitStore) add(t *testing.T, message string, parents ...CommitID) CommitID {
	t.Helper()
	s.clock = s.clock.Add(time.Minute)
	c := New(parents, tree.TreeID{}, "main", "tester", message, s.clock)
	if _, exists := s.commits[c.ID]; exists {
		t.Fatalf("duplicate commit %s", c.ID.Short())
	}
	s.commits[c.ID] = c
	return c.ID
}

func TestListCommits(t *testing.T) {
	ctx := context.Background()
	store := newMemoryCommitStore()

	// root <- a <- b <- c
	root := store.add(t, "root")
	a := store.add(t, "a", root)
	b := store.add(t, "b", a)
	c := store.add(t, "c", b)

	t.Run("walks full history", func(t *testing.T) {
		commits, err := ListCommits(ctx, store, c, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(commits) != 4 {
			t.Fatalf("want 4 commits, got %d", len(commits))
		}
		if commits[0].ID != c || commits[3].ID != root {
			t.Error("commits not in head-first order")
		}
	})

	t.Run("honors depth bound", func(t *testing.T) {
		commits, err := ListCommits(ctx, store, c, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(commits) != 2 {
			t.Fatalf("want 2 commits, got %d", len(commits))
		}
	})

	t.Run("merge diamond reported once", func(t *testing.T) {
		left := store.add(t, "left", a)
		right := store.add(t, "right", a)
		merge := store.add(t, "merge", left, right)

		commits, err := ListCommits(ctx, store, merge, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen := make(map[CommitID]int)
		for _, c := range commits {
			seen[c.ID]++
		}
		for id, count := range seen {
			if count != 1 {
				t.Errorf("commit %s reported %d times", id.Short(), count)
			}
		}
		if len(commits) != 5 {
			t.Errorf("want 5 commits, got %d", len(commits))
		}
	})

	t.Run("zero head yields nothing", func(t *testing.T) {
		commits, err := ListCommits(ctx, store, CommitID{}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(commits) != 0 {
			t.Errorf("want no commits, got %d", len(commits))
		}
	})
}

func TestIsAncestor(t *testing.T) {
	ctx := context.Background()
	store := newMemoryCommitStore()

	root := store.add(t, "root")
	a := store.add(t, "a", root)
	b := store.add(t, "b", a)
	side := store.add(t, "side", root)

	cases := []struct {
		name       string
		ancestor   CommitID
		descendant CommitID
		want       bool
	}{
		{"direct parent", a, b, true},
		{"transitive", root, b, true},
		{"self", b, b, true},
		{"reverse direction", b, a, false},
		{"sibling branches", side, b, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := IsAncestor(ctx, store, tc.ancestor, tc.descendant)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCanFastForward(t *testing.T) {
	ctx := context.Background()
	store := newMemoryCommitStore()

	root := store.add(t, "root")
	a := store.add(t, "a", root)
	b := store.add(t, "b", a)
	diverged := store.add(t, "diverged", a)

	ff, err := CanFastForward(ctx, store, a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ff {
		t.Error("descendant target must fast-forward")
	}

	ff, err = CanFastForward(ctx, store, b, diverged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ff {
		t.Error("diverged target must not fast-forward")
	}
}

func TestFindCommonAncestor(t *testing.T) {
	ctx := context.Background()

	t.Run("simple fork", func(t *testing.T) {
		store := newMemoryCommitStore()
		root := store.add(t, "root")
		fork := store.add(t, "fork", root)
		left := store.add(t, "left", fork)
		right := store.add(t, "right", fork)

		base, err := FindCommonAncestor(ctx, store, left, right)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if base.ID != fork {
			t.Errorf("want fork %s, got %s", fork.Short(), base.ID.Short())
		}
	})

	t.Run("ancestor head is its own base", func(t *testing.T) {
		store := newMemoryCommitStore()
		root := store.add(t, "root")
		a := store.add(t, "a", root)
		b := store.add(t, "b", a)

		base, err := FindCommonAncestor(ctx, store, a, b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if base.ID != a {
			t.Errorf("want %s, got %s", a.Short(), base.ID.Short())
		}
	})

	t.Run("prefers the most recent candidate", func(t *testing.T) {
		store := newMemoryCommitStore()

		// x, y and root are all common ancestors of the two heads, but the
		// merge m sits above them and is the better base.
		root := store.add(t, "root")
		x := store.add(t, "x", root)
		y := store.add(t, "y", root)
		m := store.add(t, "m", x, y)
		left := store.add(t, "left", m)
		right := store.add(t, "right", m)

		base, err := FindCommonAncestor(ctx, store, left, right)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if base.ID != m {
			t.Errorf("want merge %s, got %s", m.Short(), base.ID.Short())
		}
	})

	t.Run("disjoint histories", func(t *testing.T) {
		store := newMemoryCommitStore()
		a := store.add(t, "island a")
		b := store.add(t, "island b")

		_, err := FindCommonAncestor(ctx, store, a, b)
		if !errors.Is(err, ErrNoCommonAncestor) {
			t.Errorf("expected ErrNoCommonAncestor, got %v", err)
		}
	})
}

func TestCommitIdentity(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	parents := []CommitID{{1}, {2}}

	a := New(parents, tree.TreeID{9}, "main", "alice", "msg", ts)
	b := New(parents, tree.TreeID{9}, "main", "alice", "msg", ts)
	if a.ID != b.ID {
		t.Error("identical metadata must yield identical ids")
	}

	c := New(parents, tree.TreeID{9}, "main", "alice", "other msg", ts)
	if a.ID == c.ID {
		t.Error("different message must change the id")
	}

	if !a.IsMerge() {
		t.Error("two-parent commit must be a merge")
	}
	if !a.HasParent(CommitID{1}) || a.HasParent(CommitID{3}) {
		t.Error("HasParent misreported")
	}
}
