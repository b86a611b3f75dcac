package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/quarry/core/blob"
	"github.com/adalundhe/quarry/core/index"
	"github.com/adalundhe/quarry/core/tree"
)

func mustPath(t *testing.T, raw string) tree.CanonicalPath {
	t.Helper()

	path, err := tree.ParseCanonicalPath(raw)
	require.NoError(t, err)
	return path
}

func newTestRepo(t *testing.T) (index.RepositoryIndex, blob.Store) {
	t.Helper()

	repos := index.NewMemory()
	require.NoError(t, repos.CreateRepository(context.Background(), "game"))
	return repos, blob.NewMemoryStore()
}

func newTestWorkspace(t *testing.T, repos index.RepositoryIndex, blobs blob.Store, owner string) *Workspace {
	t.Helper()

	ws, err := Init(context.Background(), Options{
		Root:           t.TempDir(),
		RepositoryName: "game",
		Owner:          owner,
		Index:          repos,
		Blobs:          blobs,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeFile(t *testing.T, ws *Workspace, rel, content string) {
	t.Helper()

	target := filepath.Join(ws.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte(content), 0o644))
}

func readFile(t *testing.T, ws *Workspace, rel string) string {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join(ws.Root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(raw)
}

func stageAndCommit(t *testing.T, ws *Workspace, message string, files map[string]string) {
	t.Helper()

	ctx := context.Background()
	for rel, content := range files {
		writeFile(t, ws, rel, content)
		_, err := ws.Add(ctx, rel)
		require.NoError(t, err)
	}
	_, err := ws.Commit(ctx, message)
	require.NoError(t, err)
}

func TestInitAndLoad(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)
	ws := newTestWorkspace(t, repos, blobs, "alice")

	assert.Equal(t, index.DefaultBranch, ws.Branch)
	assert.False(t, ws.Head.IsZero())

	_, err := Init(ctx, Options{Root: ws.Root, RepositoryName: "game", Index: repos, Blobs: blobs})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	require.NoError(t, ws.Close())
	reloaded, err := LoadWith(ctx, ws.Root, repos, blobs)
	require.NoError(t, err)
	defer reloaded.Close()
	assert.Equal(t, ws.ID, reloaded.ID)
	assert.Equal(t, ws.Head, reloaded.Head)

	_, err = LoadWith(ctx, t.TempDir(), repos, blobs)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestStagingRules(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)
	ws := newTestWorkspace(t, repos, blobs, "alice")

	writeFile(t, ws, "a.txt", "alpha\n")
	added, err := ws.Add(ctx, "a.txt")
	require.NoError(t, err)

	// Staging uploads the content, addressed by the staged hash.
	stored, err := blobs.Has(ctx, added.StagedHash)
	require.NoError(t, err)
	assert.True(t, stored)

	_, err = ws.Add(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrAlreadyTracked)

	_, err = ws.Edit(ctx, "ghost.txt")
	assert.ErrorIs(t, err, ErrNotTracked)

	_, err = ws.Delete(ctx, "ghost.txt")
	assert.ErrorIs(t, err, ErrNotTracked)

	// Deleting a staged add drops the add entirely.
	writeFile(t, ws, "b.txt", "beta\n")
	_, err = ws.Add(ctx, "b.txt")
	require.NoError(t, err)
	_, err = ws.Delete(ctx, "b.txt")
	require.NoError(t, err)

	status, err := ws.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Staged, 1)
	assert.Equal(t, "a.txt", status.Staged[0].Change.Path.String())
}

func TestIgnorePatterns(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ignoreFileName), []byte("*.tmp\nbuild/**\n"), 0o644))

	ws, err := Init(ctx, Options{Root: root, RepositoryName: "game", Index: repos, Blobs: blobs})
	require.NoError(t, err)
	defer ws.Close()

	writeFile(t, ws, "scratch.tmp", "x")
	_, err = ws.Add(ctx, "scratch.tmp")
	assert.ErrorIs(t, err, ErrPathIgnored)

	writeFile(t, ws, "build/out.bin", "x")
	_, err = ws.Add(ctx, "build/out.bin")
	assert.ErrorIs(t, err, ErrPathIgnored)

	_, err = ws.Add(ctx, ".quarry/workspace.yaml")
	assert.ErrorIs(t, err, ErrPathIgnored)
}

func TestStatusDriftAndUnchanged(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)
	ws := newTestWorkspace(t, repos, blobs, "alice")

	stageAndCommit(t, ws, "seed", map[string]string{"a.txt": "alpha\n"})

	// An edit restaged with identical content is flagged as unchanged.
	_, err := ws.Edit(ctx, "a.txt")
	require.NoError(t, err)

	status, err := ws.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Staged, 1)
	assert.True(t, status.Staged[0].Unchanged)
	assert.False(t, status.Staged[0].Drifted)

	_, err = ws.Commit(ctx, "no-op")
	assert.ErrorIs(t, err, ErrUnchangedFiles)

	// Disk drifting away from the staged hash is reported, not committed.
	writeFile(t, ws, "a.txt", "alpha two\n")
	status, err = ws.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Staged[0].Drifted || status.Staged[0].Unchanged)

	// Restaging picks up the new content and clears both flags.
	_, err = ws.Edit(ctx, "a.txt")
	require.NoError(t, err)
	status, err = ws.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Staged[0].Drifted)
	assert.False(t, status.Staged[0].Unchanged)
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)
	ws := newTestWorkspace(t, repos, blobs, "alice")

	stageAndCommit(t, ws, "seed", map[string]string{"a.txt": "alpha\n"})

	writeFile(t, ws, "a.txt", "changed\n")
	_, err := ws.Edit(ctx, "a.txt")
	require.NoError(t, err)

	writeFile(t, ws, "new.txt", "new\n")
	_, err = ws.Add(ctx, "new.txt")
	require.NoError(t, err)

	require.NoError(t, ws.Revert(ctx, "a.txt"))
	assert.Equal(t, "alpha\n", readFile(t, ws, "a.txt"))

	require.NoError(t, ws.RevertAll(ctx))
	_, err = os.Stat(filepath.Join(ws.Root, "new.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = ws.RevertAll(ctx)
	assert.ErrorIs(t, err, ErrNothingToRevert)
}

func TestCommitAndObserveAcrossWorkspaces(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	w1 := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, w1, "initial assets", map[string]string{
		"a.txt":            "alpha\n",
		"b.txt":            "beta\n",
		"models/ship.json": "{\"hull\": 1}\n",
	})

	// A workspace initialized afterwards checks the snapshot out in full.
	w2 := newTestWorkspace(t, repos, blobs, "bob")
	assert.Equal(t, "alpha\n", readFile(t, w2, "a.txt"))
	assert.Equal(t, "{\"hull\": 1}\n", readFile(t, w2, "models/ship.json"))
	assert.Equal(t, w1.Head, w2.Head)

	history, err := w2.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "initial assets", history[0].Message)
}

func TestStaleCommitRequiresSync(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	w1 := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, w1, "seed", map[string]string{"a.txt": "alpha\n", "b.txt": "beta\n"})

	w2 := newTestWorkspace(t, repos, blobs, "bob")

	// w1 advances the branch while w2 stages its own change.
	writeFile(t, w1, "a.txt", "alpha v2\n")
	_, err := w1.Edit(ctx, "a.txt")
	require.NoError(t, err)
	_, err = w1.Commit(ctx, "tune alpha")
	require.NoError(t, err)

	writeFile(t, w2, "b.txt", "beta v2\n")
	_, err = w2.Edit(ctx, "b.txt")
	require.NoError(t, err)

	_, err = w2.Commit(ctx, "tune beta")
	assert.ErrorIs(t, err, ErrNotAtHead)

	// Sync applies w1's change, leaves the staged edit alone, and the
	// retried commit lands.
	report, err := w2.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Deferred)
	assert.Equal(t, "alpha v2\n", readFile(t, w2, "a.txt"))
	assert.Equal(t, "beta v2\n", readFile(t, w2, "b.txt"))

	_, err = w2.Commit(ctx, "tune beta")
	require.NoError(t, err)

	_, err = w1.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "beta v2\n", readFile(t, w1, "b.txt"))
}

func TestSyncDefersConflictingPaths(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	w1 := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, w1, "seed", map[string]string{"notes.txt": "a\nb\nc\n"})

	w2 := newTestWorkspace(t, repos, blobs, "bob")

	writeFile(t, w1, "notes.txt", "a\nb\nc\nfrom w1\n")
	_, err := w1.Edit(ctx, "notes.txt")
	require.NoError(t, err)
	_, err = w1.Commit(ctx, "append w1")
	require.NoError(t, err)

	writeFile(t, w2, "notes.txt", "from w2\na\nb\nc\n")
	_, err = w2.Edit(ctx, "notes.txt")
	require.NoError(t, err)

	report, err := w2.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, "notes.txt", report.Deferred[0].Path.String())

	// The local content stays untouched until the conflict is resolved.
	assert.Equal(t, "from w2\na\nb\nc\n", readFile(t, w2, "notes.txt"))

	_, err = w2.Commit(ctx, "blocked")
	assert.ErrorIs(t, err, ErrPendingResolves)

	sides, err := w2.ConflictContents(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(sides.Base))
	assert.Equal(t, "from w2\na\nb\nc\n", string(sides.Ours))
	assert.Equal(t, "a\nb\nc\nfrom w1\n", string(sides.Theirs))

	// Disjoint edits merge cleanly and restage the file.
	require.NoError(t, w2.Resolve(ctx, "notes.txt", false))
	assert.Equal(t, "from w2\na\nb\nc\nfrom w1\n", readFile(t, w2, "notes.txt"))

	_, err = w2.Commit(ctx, "merge notes")
	require.NoError(t, err)

	_, err = w1.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from w2\na\nb\nc\nfrom w1\n", readFile(t, w1, "notes.txt"))
}

func TestRepeatedSyncKeepsConflictBase(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	w1 := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, w1, "seed", map[string]string{"notes.txt": "a\nb\nc\n"})

	w2 := newTestWorkspace(t, repos, blobs, "bob")
	divergedAt := w2.Head

	writeFile(t, w2, "notes.txt", "from w2\na\nb\nc\n")
	_, err := w2.Edit(ctx, "notes.txt")
	require.NoError(t, err)

	writeFile(t, w1, "notes.txt", "a\nb\nc\nfirst\n")
	_, err = w1.Edit(ctx, "notes.txt")
	require.NoError(t, err)
	_, err = w1.Commit(ctx, "first upstream")
	require.NoError(t, err)

	report, err := w2.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, divergedAt, report.Deferred[0].BaseCommit)

	// A second upstream commit and sync moves theirs but not the base.
	writeFile(t, w1, "notes.txt", "a\nb\nc\nfirst\nsecond\n")
	_, err = w1.Edit(ctx, "notes.txt")
	require.NoError(t, err)
	_, err = w1.Commit(ctx, "second upstream")
	require.NoError(t, err)

	report, err = w2.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, divergedAt, report.Deferred[0].BaseCommit)
	assert.Equal(t, w1.Head, report.Deferred[0].TheirsCommit)

	// Resolving against the original base keeps both upstream edits.
	require.NoError(t, w2.Resolve(ctx, "notes.txt", false))
	assert.Equal(t, "from w2\na\nb\nc\nfirst\nsecond\n", readFile(t, w2, "notes.txt"))

	_, err = w2.Commit(ctx, "merged both windows")
	require.NoError(t, err)
}

func TestSyncRenameOverStagedEditDefers(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	w1 := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, w1, "seed", map[string]string{"old.txt": "payload\n", "keep.txt": "k\n"})

	w2 := newTestWorkspace(t, repos, blobs, "bob")
	writeFile(t, w2, "old.txt", "payload\nlocal\n")
	_, err := w2.Edit(ctx, "old.txt")
	require.NoError(t, err)

	// Upstream renames the file: identical content at a new path.
	writeFile(t, w1, "new.txt", "payload\n")
	_, err = w1.Add(ctx, "new.txt")
	require.NoError(t, err)
	_, err = w1.Delete(ctx, "old.txt")
	require.NoError(t, err)
	_, err = w1.Commit(ctx, "rename old to new")
	require.NoError(t, err)

	// The add half applies; the delete half collides with the staged edit
	// and is deferred instead of silently dropped.
	report, err := w2.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "payload\n", readFile(t, w2, "new.txt"))
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, "old.txt", report.Deferred[0].Path.String())
	assert.Equal(t, "payload\nlocal\n", readFile(t, w2, "old.txt"))

	_, err = w2.Commit(ctx, "blocked")
	assert.ErrorIs(t, err, ErrPendingResolves)

	// Upstream deleted its side, so the local content survives as an add.
	require.NoError(t, w2.Resolve(ctx, "old.txt", false))
	_, err = w2.Commit(ctx, "keep local copy")
	require.NoError(t, err)

	status, err := w2.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Clean())
}

func TestResolveConflictNeedsForce(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	w1 := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, w1, "seed", map[string]string{"notes.txt": "a\nb\nc\n"})

	w2 := newTestWorkspace(t, repos, blobs, "bob")

	writeFile(t, w1, "notes.txt", "a\nW1\nc\n")
	_, err := w1.Edit(ctx, "notes.txt")
	require.NoError(t, err)
	_, err = w1.Commit(ctx, "w1 line")
	require.NoError(t, err)

	writeFile(t, w2, "notes.txt", "a\nW2\nc\n")
	_, err = w2.Edit(ctx, "notes.txt")
	require.NoError(t, err)

	_, err = w2.Sync(ctx)
	require.NoError(t, err)

	err = w2.Resolve(ctx, "notes.txt", false)
	assert.ErrorIs(t, err, ErrMergeConflict)

	// The user settles it by hand and forces the disk content through.
	writeFile(t, w2, "notes.txt", "a\nW1 and W2\nc\n")
	require.NoError(t, w2.Resolve(ctx, "notes.txt", true))

	_, err = w2.Commit(ctx, "settled")
	require.NoError(t, err)
}

func TestCommitBlockedByForeignLock(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	w1 := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, w1, "seed", map[string]string{"level.bin": "v1"})

	w2 := newTestWorkspace(t, repos, blobs, "bob")
	require.NoError(t, w2.LockFile(ctx, "level.bin"))

	writeFile(t, w1, "level.bin", "v2")
	_, err := w1.Edit(ctx, "level.bin")
	require.NoError(t, err)

	_, err = w1.Commit(ctx, "rework level")
	assert.ErrorIs(t, err, ErrLockHeldByOther)

	var lockErr *LockHeldError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "level.bin", lockErr.Paths[0].String())

	require.NoError(t, w2.UnlockFile(ctx, "level.bin"))
	_, err = w1.Commit(ctx, "rework level")
	require.NoError(t, err)

	// The lock holder itself is never blocked by its own lock.
	require.NoError(t, w1.LockFile(ctx, "level.bin"))
	writeFile(t, w1, "level.bin", "v3")
	_, err = w1.Edit(ctx, "level.bin")
	require.NoError(t, err)
	_, err = w1.Commit(ctx, "rework again")
	require.NoError(t, err)
}

func TestBranchScenario(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	ws := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, ws, "seed", map[string]string{"a.txt": "alpha\n", "b.txt": "beta\n"})
	mainHead := ws.Head

	snapshot, err := ws.CreateBranch(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, "task", ws.Branch)
	assert.Equal(t, mainHead, snapshot.Parents[0])

	writeFile(t, ws, "a.txt", "alpha task\n")
	_, err = ws.Edit(ctx, "a.txt")
	require.NoError(t, err)
	_, err = ws.Commit(ctx, "task work")
	require.NoError(t, err)
	taskHead := ws.Head

	// Main has not moved, so merging task is a fast-forward.
	require.NoError(t, ws.SwitchBranch(ctx, index.DefaultBranch))
	assert.Equal(t, "alpha\n", readFile(t, ws, "a.txt"))

	merge, err := ws.Merge(ctx, "task")
	require.NoError(t, err)
	assert.Nil(t, merge)
	assert.Equal(t, taskHead, ws.Head)
	assert.Equal(t, "alpha task\n", readFile(t, ws, "a.txt"))

	// Merging again is a no-op.
	merge, err = ws.Merge(ctx, "task")
	require.NoError(t, err)
	assert.Nil(t, merge)

	// Diverge both branches, then merge produces a two-parent commit.
	writeFile(t, ws, "b.txt", "beta main\n")
	_, err = ws.Edit(ctx, "b.txt")
	require.NoError(t, err)
	_, err = ws.Commit(ctx, "main work")
	require.NoError(t, err)
	mainDiverged := ws.Head

	require.NoError(t, ws.SwitchBranch(ctx, "task"))
	writeFile(t, ws, "a.txt", "alpha task v2\n")
	_, err = ws.Edit(ctx, "a.txt")
	require.NoError(t, err)
	_, err = ws.Commit(ctx, "more task work")
	require.NoError(t, err)
	taskDiverged := ws.Head

	require.NoError(t, ws.SwitchBranch(ctx, index.DefaultBranch))
	merge, err = ws.Merge(ctx, "task")
	require.NoError(t, err)
	require.NotNil(t, merge)
	assert.ElementsMatch(t,
		[]string{mainDiverged.String(), taskDiverged.String()},
		[]string{merge.Parents[0].String(), merge.Parents[1].String()},
	)
	assert.Equal(t, "alpha task v2\n", readFile(t, ws, "a.txt"))
	assert.Equal(t, "beta main\n", readFile(t, ws, "b.txt"))
}

func TestMergeConflictSurfacesPaths(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	ws := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, ws, "seed", map[string]string{"notes.txt": "a\nb\nc\n"})

	_, err := ws.CreateBranch(ctx, "task")
	require.NoError(t, err)

	writeFile(t, ws, "notes.txt", "a\nTASK\nc\n")
	_, err = ws.Edit(ctx, "notes.txt")
	require.NoError(t, err)
	_, err = ws.Commit(ctx, "task side")
	require.NoError(t, err)

	require.NoError(t, ws.SwitchBranch(ctx, index.DefaultBranch))
	writeFile(t, ws, "notes.txt", "a\nMAIN\nc\n")
	_, err = ws.Edit(ctx, "notes.txt")
	require.NoError(t, err)
	_, err = ws.Commit(ctx, "main side")
	require.NoError(t, err)

	_, err = ws.Merge(ctx, "task")
	assert.ErrorIs(t, err, ErrMergeConflict)

	var mergeErr *MergeConflictError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "notes.txt", mergeErr.Paths[0].String())
}

func TestCreateBranchSnapshotsPendingChanges(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	ws := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, ws, "seed", map[string]string{"a.txt": "alpha\n"})

	writeFile(t, ws, "wip.txt", "work in progress\n")
	_, err := ws.Add(ctx, "wip.txt")
	require.NoError(t, err)

	snapshot, err := ws.CreateBranch(ctx, "feature")
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	// The staged add moved into the snapshot commit.
	status, err := ws.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Clean())

	changes, err := ws.DiffCommits(ctx, snapshot.Parents[0], snapshot.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "wip.txt", changes[0].Path.String())
}

func TestSwitchBranchRequiresClean(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	ws := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, ws, "seed", map[string]string{"a.txt": "alpha\n"})

	_, err := ws.CreateBranch(ctx, "task")
	require.NoError(t, err)

	writeFile(t, ws, "a.txt", "dirty\n")
	_, err = ws.Edit(ctx, "a.txt")
	require.NoError(t, err)

	err = ws.SwitchBranch(ctx, index.DefaultBranch)
	assert.ErrorIs(t, err, ErrPendingChanges)
}

func TestDetachAndAttachBranch(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	ws := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, ws, "seed", map[string]string{"shared.txt": "v1", "feature.txt": "v1"})

	// A lock taken on main lives in main's domain.
	require.NoError(t, ws.LockFile(ctx, "shared.txt"))
	mainBranch, err := ws.Index().GetBranch(ctx, index.DefaultBranch)
	require.NoError(t, err)

	_, err = ws.CreateBranch(ctx, "feature")
	require.NoError(t, err)

	domain, err := ws.DetachBranch(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, mainBranch.LockDomainID, domain)

	detached, err := ws.Index().GetBranch(ctx, "feature")
	require.NoError(t, err)
	assert.Empty(t, detached.Parent)
	assert.Equal(t, domain, detached.LockDomainID)

	// The fresh domain starts empty; old locks stay behind.
	count, err := ws.Index().CountLocks(ctx, domain)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Locking the same path in the detached domain conflicts at attach.
	require.NoError(t, ws.LockFile(ctx, "shared.txt"))
	err = ws.AttachBranch(ctx, index.DefaultBranch)
	assert.ErrorIs(t, err, ErrLockDomainConflict)

	// Dropping the overlap lets attach union the domains.
	require.NoError(t, ws.UnlockFile(ctx, "shared.txt"))
	require.NoError(t, ws.LockFile(ctx, "feature.txt"))
	require.NoError(t, ws.AttachBranch(ctx, index.DefaultBranch))

	attached, err := ws.Index().GetBranch(ctx, "feature")
	require.NoError(t, err)
	assert.Equal(t, index.DefaultBranch, attached.Parent)
	assert.Equal(t, mainBranch.LockDomainID, attached.LockDomainID)

	// The feature lock migrated into the unioned domain.
	lock, err := ws.Index().GetLock(ctx, mainBranch.LockDomainID, mustPath(t, "feature.txt"))
	require.NoError(t, err)
	assert.Equal(t, ws.ID, lock.WorkspaceID)

	// Attaching twice is rejected.
	err = ws.AttachBranch(ctx, index.DefaultBranch)
	assert.ErrorIs(t, err, ErrBranchHasParent)
}

func TestNothingToCommit(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)
	ws := newTestWorkspace(t, repos, blobs, "alice")

	_, err := ws.Commit(ctx, "empty")
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestDeleteRemovesFromSnapshot(t *testing.T) {
	ctx := context.Background()
	repos, blobs := newTestRepo(t)

	w1 := newTestWorkspace(t, repos, blobs, "alice")
	stageAndCommit(t, w1, "seed", map[string]string{"old/gone.txt": "x", "keep.txt": "y"})

	_, err := w1.Delete(ctx, "old/gone.txt")
	require.NoError(t, err)
	_, err = w1.Commit(ctx, "drop old")
	require.NoError(t, err)

	// A fresh checkout sees neither the file nor its emptied directory.
	w2 := newTestWorkspace(t, repos, blobs, "bob")
	_, err = os.Stat(filepath.Join(w2.Root, "old"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "y", readFile(t, w2, "keep.txt"))
}
