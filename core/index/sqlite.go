package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/tree"
)

// SQLite is the relational RepositoryIndex. Every repository lives in one
// database file; CAS semantics come from conditional UPDATEs and immediate
// transactions.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	// _txlock=immediate makes every transaction take the write lock up
	// front, so a racing CommitToBranch serializes behind busy_timeout and
	// fails the head re-check instead of surfacing SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=1&_txlock=immediate",
		cleaned, int((30 * time.Second).Milliseconds()))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			name       TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS branches (
			repository     TEXT NOT NULL,
			name           TEXT NOT NULL,
			head           TEXT NOT NULL,
			parent         TEXT NOT NULL DEFAULT '',
			lock_domain_id TEXT NOT NULL,
			PRIMARY KEY (repository, name)
		)`,
		`CREATE TABLE IF NOT EXISTS commits (
			repository TEXT NOT NULL,
			id         TEXT NOT NULL,
			parents    TEXT NOT NULL,
			root_tree  TEXT NOT NULL,
			branch     TEXT NOT NULL,
			owner      TEXT NOT NULL,
			message    TEXT NOT NULL,
			timestamp  INTEGER NOT NULL,
			PRIMARY KEY (repository, id)
		)`,
		`CREATE TABLE IF NOT EXISTS trees (
			repository TEXT NOT NULL,
			id         TEXT NOT NULL,
			entries    TEXT NOT NULL,
			PRIMARY KEY (repository, id)
		)`,
		`CREATE TABLE IF NOT EXISTS locks (
			repository     TEXT NOT NULL,
			lock_domain_id TEXT NOT NULL,
			path           TEXT NOT NULL,
			workspace_id   TEXT NOT NULL,
			branch         TEXT NOT NULL,
			PRIMARY KEY (repository, lock_domain_id, path)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_domain ON locks (repository, lock_domain_id)`,
		`CREATE INDEX IF NOT EXISTS idx_branches_parent ON branches (repository, parent)`,
	}
	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
}

func (s *SQLite) CreateRepository(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO repositories (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRepositoryExists, name)
	}

	return seedRepository(ctx, &sqliteIndex{db: s.db, repo: name})
}

func (s *SQLite) DestroyRepository(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("destroy repository: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("destroy repository: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("destroy repository: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}

	for _, table := range []string{"branches", "commits", "trees", "locks"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE repository = ?`, name); err != nil {
			return fmt.Errorf("destroy repository: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) RepositoryExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM repositories WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository exists: %w", err)
	}
	return true, nil
}

func (s *SQLite) ListRepositories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list repositories: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLite) OpenRepository(ctx context.Context, name string) (Index, error) {
	exists, err := s.RepositoryExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}
	return &sqliteIndex{db: s.db, repo: name}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteIndex struct {
	db   *sql.DB
	repo string
}

func (i *sqliteIndex) GetBranch(ctx context.Context, name string) (*Branch, error) {
	row := i.db.QueryRowContext(ctx,
		`SELECT name, head, parent, lock_domain_id FROM branches WHERE repository = ? AND name = ?`,
		i.repo, name)
	branch, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return branch, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBranch(row rowScanner) (*Branch, error) {
	var branch Branch
	var head string
	if err := row.Scan(&branch.Name, &head, &branch.Parent, &branch.LockDomainID); err != nil {
		return nil, err
	}
	if head != "" {
		parsed, err := commit.ParseCommitID(head)
		if err != nil {
			return nil, fmt.Errorf("scan branch %s: %w", branch.Name, err)
		}
		branch.Head = parsed
	}
	return &branch, nil
}

func headValue(id commit.CommitID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}

func (i *sqliteIndex) ListBranches(ctx context.Context) ([]*Branch, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT name, head, parent, lock_domain_id FROM branches WHERE repository = ? ORDER BY name`,
		i.repo)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []*Branch
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("list branches: %w", err)
		}
		branches = append(branches, branch)
	}
	return branches, rows.Err()
}

func (i *sqliteIndex) InsertBranch(ctx context.Context, branch *Branch) error {
	result, err := i.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO branches (repository, name, head, parent, lock_domain_id)
		 VALUES (?, ?, ?, ?, ?)`,
		i.repo, branch.Name, headValue(branch.Head), branch.Parent, branch.LockDomainID)
	if err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrBranchExists, branch.Name)
	}
	return nil
}

func (i *sqliteIndex) UpdateBranch(ctx context.Context, branch *Branch, expectedHead commit.CommitID) error {
	result, err := i.db.ExecContext(ctx,
		`UPDATE branches SET head = ?, parent = ?, lock_domain_id = ?
		 WHERE repository = ? AND name = ? AND head = ?`,
		headValue(branch.Head), branch.Parent, branch.LockDomainID,
		i.repo, branch.Name, headValue(expectedHead))
	if err != nil {
		return fmt.Errorf("update branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update branch: %w", err)
	}
	if affected == 1 {
		return nil
	}

	if _, err := i.GetBranch(ctx, branch.Name); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrStaleHead, branch.Name)
}

func (i *sqliteIndex) GetCommit(ctx context.Context, id commit.CommitID) (*commit.Commit, error) {
	row := i.db.QueryRowContext(ctx,
		`SELECT id, parents, root_tree, branch, owner, message, timestamp
		 FROM commits WHERE repository = ? AND id = ?`,
		i.repo, id.String())
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", commit.ErrNotFound, id.Short())
	}
	return c, err
}

func scanCommit(row rowScanner) (*commit.Commit, error) {
	var (
		c          commit.Commit
		idStr      string
		parentsRaw string
		rootTree   string
		timestamp  int64
	)
	if err := row.Scan(&idStr, &parentsRaw, &rootTree, &c.Branch, &c.Owner, &c.Message, &timestamp); err != nil {
		return nil, err
	}

	id, err := commit.ParseCommitID(idStr)
	if err != nil {
		return nil, fmt.Errorf("scan commit: %w", err)
	}
	c.ID = id

	var parents []string
	if err := json.Unmarshal([]byte(parentsRaw), &parents); err != nil {
		return nil, fmt.Errorf("scan commit %s: %w", id.Short(), err)
	}
	for _, parent := range parents {
		parsed, err := commit.ParseCommitID(parent)
		if err != nil {
			return nil, fmt.Errorf("scan commit %s: %w", id.Short(), err)
		}
		c.Parents = append(c.Parents, parsed)
	}

	root, err := tree.ParseTreeID(rootTree)
	if err != nil {
		return nil, fmt.Errorf("scan commit %s: %w", id.Short(), err)
	}
	c.RootTree = root
	c.Timestamp = time.Unix(0, timestamp).UTC()
	return &c, nil
}

func (i *sqliteIndex) ListCommits(ctx context.Context, from commit.CommitID, depth int) ([]*commit.Commit, error) {
	return commit.ListCommits(ctx, i, from, depth)
}

func (i *sqliteIndex) CommitToBranch(ctx context.Context, c *commit.Commit, branchName string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit to branch: %w", err)
	}
	defer tx.Rollback()

	var head string
	err = tx.QueryRowContext(ctx,
		`SELECT head FROM branches WHERE repository = ? AND name = ?`,
		i.repo, branchName).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branchName)
	}
	if err != nil {
		return fmt.Errorf("commit to branch: %w", err)
	}

	var expected commit.CommitID
	if len(c.Parents) > 0 {
		expected = c.Parents[0]
	}
	if head != headValue(expected) {
		return fmt.Errorf("%w: %s is at %s, commit parent is %s",
			ErrStaleHead, branchName, head, expected.Short())
	}

	for _, parent := range c.Parents {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM commits WHERE repository = ? AND id = ?`,
			i.repo, parent.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", commit.ErrMissingParent, parent.Short())
		}
		if err != nil {
			return fmt.Errorf("commit to branch: %w", err)
		}
	}

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM trees WHERE repository = ? AND id = ?`,
		i.repo, c.RootTree.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTreeNotFound, c.RootTree.Short())
	}
	if err != nil {
		return fmt.Errorf("commit to branch: %w", err)
	}

	parents := make([]string, 0, len(c.Parents))
	for _, parent := range c.Parents {
		parents = append(parents, parent.String())
	}
	parentsRaw, err := json.Marshal(parents)
	if err != nil {
		return fmt.Errorf("commit to branch: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO commits (repository, id, parents, root_tree, branch, owner, message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.repo, c.ID.String(), string(parentsRaw), c.RootTree.String(),
		c.Branch, c.Owner, c.Message, c.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("commit to branch: %w", err)
	}

	// The advance re-checks the head so a raced writer loses with a clean
	// CAS failure instead of silently overwriting.
	result, err := tx.ExecContext(ctx,
		`UPDATE branches SET head = ? WHERE repository = ? AND name = ? AND head = ?`,
		c.ID.String(), i.repo, branchName, head)
	if err != nil {
		return fmt.Errorf("commit to branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit to branch: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrStaleHead, branchName)
	}
	return tx.Commit()
}

func (i *sqliteIndex) GetTree(ctx context.Context, id tree.TreeID) (*tree.Tree, error) {
	var entriesRaw string
	err := i.db.QueryRowContext(ctx,
		`SELECT entries FROM trees WHERE repository = ? AND id = ?`,
		i.repo, id.String()).Scan(&entriesRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}

	var t tree.Tree
	if err := json.Unmarshal([]byte(entriesRaw), &t); err != nil {
		return nil, fmt.Errorf("get tree %s: %w", id.Short(), err)
	}
	return &t, nil
}

func (i *sqliteIndex) SaveTree(ctx context.Context, t *tree.Tree) (tree.TreeID, error) {
	id := t.ID()
	entriesRaw, err := json.Marshal(t)
	if err != nil {
		return tree.TreeID{}, fmt.Errorf("save tree: %w", err)
	}

	_, err = i.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trees (repository, id, entries) VALUES (?, ?, ?)`,
		i.repo, id.String(), string(entriesRaw))
	if err != nil {
		return tree.TreeID{}, fmt.Errorf("save tree: %w", err)
	}
	return id, nil
}

func (i *sqliteIndex) Lock(ctx context.Context, lock *Lock) error {
	result, err := i.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO locks (repository, lock_domain_id, path, workspace_id, branch)
		 VALUES (?, ?, ?, ?, ?)`,
		i.repo, lock.LockDomainID, lock.Path.String(), lock.WorkspaceID, lock.Branch)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrLockExists, lock.Path)
	}
	return nil
}

func (i *sqliteIndex) Unlock(ctx context.Context, domainID string, path tree.CanonicalPath) error {
	result, err := i.db.ExecContext(ctx,
		`DELETE FROM locks WHERE repository = ? AND lock_domain_id = ? AND path = ?`,
		i.repo, domainID, path.String())
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotFound, path)
	}
	return nil
}

func (i *sqliteIndex) GetLock(ctx context.Context, domainID string, path tree.CanonicalPath) (*Lock, error) {
	var lock Lock
	var pathStr string
	err := i.db.QueryRowContext(ctx,
		`SELECT lock_domain_id, path, workspace_id, branch
		 FROM locks WHERE repository = ? AND lock_domain_id = ? AND path = ?`,
		i.repo, domainID, path.String()).Scan(&lock.LockDomainID, &pathStr, &lock.WorkspaceID, &lock.Branch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	lock.Path = tree.CanonicalPath(pathStr)
	return &lock, nil
}

func (i *sqliteIndex) ListLocks(ctx context.Context, domainID string) ([]*Lock, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT lock_domain_id, path, workspace_id, branch
		 FROM locks WHERE repository = ? AND lock_domain_id = ? ORDER BY path`,
		i.repo, domainID)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var locks []*Lock
	for rows.Next() {
		var lock Lock
		var pathStr string
		if err := rows.Scan(&lock.LockDomainID, &pathStr, &lock.WorkspaceID, &lock.Branch); err != nil {
			return nil, fmt.Errorf("list locks: %w", err)
		}
		lock.Path = tree.CanonicalPath(pathStr)
		locks = append(locks, &lock)
	}
	return locks, rows.Err()
}

func (i *sqliteIndex) CountLocks(ctx context.Context, domainID string) (int, error) {
	var count int
	err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locks WHERE repository = ? AND lock_domain_id = ?`,
		i.repo, domainID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count locks: %w", err)
	}
	return count, nil
}
