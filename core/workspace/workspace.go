// Package workspace implements the client side of the engine: a local
// checkout of a branch, a crash-safe ledger of staged changes, and the
// sync / merge / commit state machine that talks to an index backend and a
// blob store.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/quarry/core/blob"
	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/index"
	"github.com/adalundhe/quarry/core/tree"
)

const (
	metaDirName    = ".quarry"
	configFileName = "workspace.yaml"
	ledgerFileName = "ledger.db"
	ignoreFileName = ".quarryignore"
)

type configFile struct {
	WorkspaceID    string `yaml:"workspace_id"`
	Owner          string `yaml:"owner"`
	RepositoryURL  string `yaml:"repository_url"`
	RepositoryName string `yaml:"repository_name"`
	BlobStoreURL   string `yaml:"blob_store_url"`
	Branch         string `yaml:"branch"`
	Head           string `yaml:"head"`
}

// Options configures Init. Index and Blobs, when set, override the URLs;
// otherwise the URLs are dialed via index.Open and blob.Open.
type Options struct {
	Root           string
	RepositoryURL  string
	RepositoryName string
	BlobStoreURL   string
	Branch         string
	Owner          string

	Index index.RepositoryIndex
	Blobs blob.Store
}

// Workspace is a single checkout. One process drives it at a time; all
// cross-workspace coordination goes through the index backend.
type Workspace struct {
	ID     string
	Owner  string
	Root   string
	Branch string
	Head   commit.CommitID

	repositoryURL  string
	repositoryName string
	blobStoreURL   string

	repos  index.RepositoryIndex
	idx    index.Index
	blobs  blob.Store
	ledger *ledger
	ignore *ignoreSet
}

// Init creates a fresh workspace under opts.Root and checks out the head of
// the requested branch (main by default).
func Init(ctx context.Context, opts Options) (*Workspace, error) {
	metaDir := filepath.Join(opts.Root, metaDirName)
	if _, err := os.Stat(filepath.Join(metaDir, configFileName)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, opts.Root)
	}
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	branchName := opts.Branch
	if branchName == "" {
		branchName = index.DefaultBranch
	}
	owner := opts.Owner
	if owner == "" {
		owner = currentUserName()
	}

	ws := &Workspace{
		ID:             uuid.NewString(),
		Owner:          owner,
		Root:           opts.Root,
		Branch:         branchName,
		repositoryURL:  opts.RepositoryURL,
		repositoryName: opts.RepositoryName,
		blobStoreURL:   opts.BlobStoreURL,
		repos:          opts.Index,
		blobs:          opts.Blobs,
	}

	if err := ws.connect(ctx); err != nil {
		return nil, err
	}

	branch, err := ws.idx.GetBranch(ctx, branchName)
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.Head = branch.Head

	ledgerDB, err := openLedger(filepath.Join(metaDir, ledgerFileName))
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.ledger = ledgerDB

	if err := ws.checkoutHead(ctx); err != nil {
		ws.Close()
		return nil, err
	}
	if err := ws.saveConfig(); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// Load reopens an existing workspace from its on-disk metadata.
func Load(ctx context.Context, root string) (*Workspace, error) {
	return LoadWith(ctx, root, nil, nil)
}

// LoadWith is Load with the backend connections injected, used when the
// caller already holds an index (embedded stores, tests).
func LoadWith(ctx context.Context, root string, repos index.RepositoryIndex, blobs blob.Store) (*Workspace, error) {
	cfgPath := filepath.Join(root, metaDirName, configFileName)
	raw, err := os.ReadFile(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, root)
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	var cfg configFile
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	ws := &Workspace{
		ID:             cfg.WorkspaceID,
		Owner:          cfg.Owner,
		Root:           root,
		Branch:         cfg.Branch,
		repositoryURL:  cfg.RepositoryURL,
		repositoryName: cfg.RepositoryName,
		blobStoreURL:   cfg.BlobStoreURL,
		repos:          repos,
		blobs:          blobs,
	}
	if cfg.Head != "" {
		head, err := commit.ParseCommitID(cfg.Head)
		if err != nil {
			return nil, fmt.Errorf("load workspace: %w", err)
		}
		ws.Head = head
	}

	if err := ws.connect(ctx); err != nil {
		return nil, err
	}

	ledgerDB, err := openLedger(filepath.Join(root, metaDirName, ledgerFileName))
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.ledger = ledgerDB
	return ws, nil
}

// connect dials the index and blob store unless they were injected, and
// loads the ignore patterns.
func (ws *Workspace) connect(ctx context.Context) error {
	if ws.repos == nil {
		repos, err := index.Open(ws.repositoryURL)
		if err != nil {
			return fmt.Errorf("connect workspace: %w", err)
		}
		ws.repos = repos
	}

	idx, err := ws.repos.OpenRepository(ctx, ws.repositoryName)
	if err != nil {
		return err
	}
	ws.idx = idx

	if ws.blobs == nil {
		blobs, err := blob.Open(ws.blobStoreURL)
		if err != nil {
			return fmt.Errorf("connect workspace: %w", err)
		}
		ws.blobs = blobs
	}

	ignore, err := loadIgnoreSet(filepath.Join(ws.Root, ignoreFileName))
	if err != nil {
		return err
	}
	ws.ignore = ignore
	return nil
}

func (ws *Workspace) Close() error {
	var firstErr error
	if ws.ledger != nil {
		if err := ws.ledger.close(); err != nil {
			firstErr = err
		}
	}
	return firstErr
}

// Index exposes the per-repository backend, mainly for branch and lock
// inspection commands.
func (ws *Workspace) Index() index.Index {
	return ws.idx
}

// saveConfig persists workspace metadata with write-then-rename so a crash
// mid-write never leaves a truncated config behind.
func (ws *Workspace) saveConfig() error {
	cfg := configFile{
		WorkspaceID:    ws.ID,
		Owner:          ws.Owner,
		RepositoryURL:  ws.repositoryURL,
		RepositoryName: ws.repositoryName,
		BlobStoreURL:   ws.blobStoreURL,
		Branch:         ws.Branch,
		Head:           ws.Head.String(),
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save workspace config: %w", err)
	}

	cfgPath := filepath.Join(ws.Root, metaDirName, configFileName)
	tmpPath := cfgPath + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o644); err != nil {
		return fmt.Errorf("save workspace config: %w", err)
	}
	if err := os.Rename(tmpPath, cfgPath); err != nil {
		return fmt.Errorf("save workspace config: %w", err)
	}
	return nil
}

func currentUserName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// absPath maps a canonical path to its on-disk location.
func (ws *Workspace) absPath(path tree.CanonicalPath) string {
	return filepath.Join(ws.Root, filepath.FromSlash(path.String()))
}

// canonicalize turns a user-supplied path (absolute or relative to the
// workspace root) into its canonical key.
func (ws *Workspace) canonicalize(raw string) (tree.CanonicalPath, error) {
	rel := raw
	if filepath.IsAbs(raw) {
		relative, err := filepath.Rel(ws.Root, raw)
		if err != nil {
			return "", fmt.Errorf("%w: %s is outside the workspace", tree.ErrInvalidPath, raw)
		}
		rel = relative
	}
	return tree.ParseCanonicalPath(filepath.ToSlash(rel))
}

// rootTree loads the snapshot the workspace's recorded head points at.
func (ws *Workspace) rootTree(ctx context.Context) (tree.TreeID, error) {
	if ws.Head.IsZero() {
		return tree.TreeID{}, nil
	}
	head, err := ws.idx.GetCommit(ctx, ws.Head)
	if err != nil {
		return tree.TreeID{}, err
	}
	return head.RootTree, nil
}

// findEntry descends from a root tree to the entry at path.
func (ws *Workspace) findEntry(ctx context.Context, rootID tree.TreeID, path tree.CanonicalPath) (tree.Entry, bool, error) {
	if rootID.IsZero() {
		return tree.Entry{}, false, nil
	}

	current, err := ws.idx.GetTree(ctx, rootID)
	if err != nil {
		return tree.Entry{}, false, err
	}

	segments := path.Segments()
	for i, segment := range segments {
		entry, ok := current.Get(segment)
		if !ok {
			return tree.Entry{}, false, nil
		}
		if i == len(segments)-1 {
			return entry, true, nil
		}
		if entry.Kind != tree.EntryDirectory {
			return tree.Entry{}, false, nil
		}
		current, err = ws.idx.GetTree(ctx, entry.SubtreeID())
		if err != nil {
			return tree.Entry{}, false, err
		}
	}
	return tree.Entry{}, false, nil
}

// checkoutHead materializes the whole head snapshot into the workspace root.
func (ws *Workspace) checkoutHead(ctx context.Context) error {
	rootID, err := ws.rootTree(ctx)
	if err != nil {
		return err
	}
	changes, err := tree.Diff(ctx, ws.idx, tree.TreeID{}, rootID)
	if err != nil {
		return err
	}
	return ws.applyChangesToDisk(ctx, changes)
}

// applyChangesToDisk replays tree-level changes onto the working copy.
func (ws *Workspace) applyChangesToDisk(ctx context.Context, changes []tree.Change) error {
	for _, change := range changes {
		switch change.Type {
		case tree.ChangeAdded, tree.ChangeModified:
			if err := ws.writeFileFromBlob(ctx, change.Path, change.NewHash); err != nil {
				return err
			}
		case tree.ChangeDeleted:
			if err := ws.removeFile(change.Path); err != nil {
				return err
			}
		case tree.ChangeRenamed:
			if err := ws.removeFile(change.OldPath); err != nil {
				return err
			}
			if err := ws.writeFileFromBlob(ctx, change.Path, change.NewHash); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ws *Workspace) writeFileFromBlob(ctx context.Context, path tree.CanonicalPath, hash tree.ContentHash) error {
	content, err := ws.blobs.Read(ctx, hash)
	if err != nil {
		return fmt.Errorf("checkout %s: %w", path, err)
	}

	target := ws.absPath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("checkout %s: %w", path, err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("checkout %s: %w", path, err)
	}
	return nil
}

func (ws *Workspace) removeFile(path tree.CanonicalPath) error {
	err := os.Remove(ws.absPath(path))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	// Drop directories left empty by the removal.
	dir := filepath.Dir(ws.absPath(path))
	for dir != ws.Root {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// hashFile hashes the working-copy content at path.
func (ws *Workspace) hashFile(path tree.CanonicalPath) (tree.ContentHash, int64, error) {
	content, err := os.ReadFile(ws.absPath(path))
	if err != nil {
		return tree.ContentHash{}, 0, err
	}
	return tree.ComputeContentHash(content), int64(len(content)), nil
}

func (ws *Workspace) readFile(path tree.CanonicalPath) ([]byte, error) {
	return os.ReadFile(ws.absPath(path))
}
