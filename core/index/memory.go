package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/tree"
)

// Memory is the embedded RepositoryIndex. It holds everything in process
// memory behind mutexes and is the reference for the backend contract.
type Memory struct {
	mu    sync.RWMutex
	repos map[string]*memoryRepository
}

type memoryRepository struct {
	mu       sync.RWMutex
	branches map[string]*Branch
	commits  map[commit.CommitID]*commit.Commit
	trees    map[tree.TreeID]*tree.Tree
	locks    map[lockKey]*Lock
}

type lockKey struct {
	domain string
	path   tree.CanonicalPath
}

func NewMemory() *Memory {
	return &Memory{repos: make(map[string]*memoryRepository)}
}

func (m *Memory) CreateRepository(ctx context.Context, name string) error {
	m.mu.Lock()
	if _, exists := m.repos[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRepositoryExists, name)
	}
	repo := &memoryRepository{
		branches: make(map[string]*Branch),
		commits:  make(map[commit.CommitID]*commit.Commit),
		trees:    make(map[tree.TreeID]*tree.Tree),
		locks:    make(map[lockKey]*Lock),
	}
	m.repos[name] = repo
	m.mu.Unlock()

	return seedRepository(ctx, &memoryIndex{repo: repo})
}

func (m *Memory) DestroyRepository(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.repos[name]; !exists {
		return fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}
	delete(m.repos, name)
	return nil
}

func (m *Memory) RepositoryExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.repos[name]
	return exists, nil
}

func (m *Memory) ListRepositories(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.repos))
	for name := range m.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) OpenRepository(ctx context.Context, name string) (Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	repo, exists := m.repos[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}
	return &memoryIndex{repo: repo}, nil
}

func (m *Memory) Close() error {
	return nil
}

type memoryIndex struct {
	repo *memoryRepository
}

func (i *memoryIndex) GetBranch(ctx context.Context, name string) (*Branch, error) {
	i.repo.mu.RLock()
	defer i.repo.mu.RUnlock()

	branch, ok := i.repo.branches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return branch.Clone(), nil
}

func (i *memoryIndex) ListBranches(ctx context.Context) ([]*Branch, error) {
	i.repo.mu.RLock()
	defer i.repo.mu.RUnlock()

	branches := make([]*Branch, 0, len(i.repo.branches))
	for _, branch := range i.repo.branches {
		branches = append(branches, branch.Clone())
	}
	sort.Slice(branches, func(a, b int) bool {
		return branches[a].Name < branches[b].Name
	})
	return branches, nil
}

func (i *memoryIndex) InsertBranch(ctx context.Context, branch *Branch) error {
	i.repo.mu.Lock()
	defer i.repo.mu.Unlock()

	if _, exists := i.repo.branches[branch.Name]; exists {
		return fmt.Errorf("%w: %s", ErrBranchExists, branch.Name)
	}
	i.repo.branches[branch.Name] = branch.Clone()
	return nil
}

func (i *memoryIndex) UpdateBranch(ctx context.Context, branch *Branch, expectedHead commit.CommitID) error {
	i.repo.mu.Lock()
	defer i.repo.mu.Unlock()

	stored, ok := i.repo.branches[branch.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branch.Name)
	}
	if stored.Head != expectedHead {
		return fmt.Errorf("%w: %s is at %s, expected %s",
			ErrStaleHead, branch.Name, stored.Head.Short(), expectedHead.Short())
	}
	i.repo.branches[branch.Name] = branch.Clone()
	return nil
}

func (i *memoryIndex) GetCommit(ctx context.Context, id commit.CommitID) (*commit.Commit, error) {
	i.repo.mu.RLock()
	defer i.repo.mu.RUnlock()

	c, ok := i.repo.commits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", commit.ErrNotFound, id.Short())
	}
	return c.Clone(), nil
}

func (i *memoryIndex) ListCommits(ctx context.Context, from commit.CommitID, depth int) ([]*commit.Commit, error) {
	return commit.ListCommits(ctx, i, from, depth)
}

func (i *memoryIndex) CommitToBranch(ctx context.Context, c *commit.Commit, branchName string) error {
	i.repo.mu.Lock()
	defer i.repo.mu.Unlock()

	branch, ok := i.repo.branches[branchName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branchName)
	}

	var expected commit.CommitID
	if len(c.Parents) > 0 {
		expected = c.Parents[0]
	}
	if branch.Head != expected {
		return fmt.Errorf("%w: %s is at %s, commit parent is %s",
			ErrStaleHead, branchName, branch.Head.Short(), expected.Short())
	}

	for _, parent := range c.Parents {
		if _, ok := i.repo.commits[parent]; !ok {
			return fmt.Errorf("%w: %s", commit.ErrMissingParent, parent.Short())
		}
	}
	if _, ok := i.repo.trees[c.RootTree]; !ok {
		return fmt.Errorf("%w: %s", ErrTreeNotFound, c.RootTree.Short())
	}

	i.repo.commits[c.ID] = c.Clone()
	branch.Head = c.ID
	return nil
}

func (i *memoryIndex) GetTree(ctx context.Context, id tree.TreeID) (*tree.Tree, error) {
	i.repo.mu.RLock()
	defer i.repo.mu.RUnlock()

	t, ok := i.repo.trees[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, id.Short())
	}
	return t.Clone(), nil
}

func (i *memoryIndex) SaveTree(ctx context.Context, t *tree.Tree) (tree.TreeID, error) {
	id := t.ID()

	i.repo.mu.Lock()
	defer i.repo.mu.Unlock()

	if _, exists := i.repo.trees[id]; !exists {
		i.repo.trees[id] = t.Clone()
	}
	return id, nil
}

func (i *memoryIndex) Lock(ctx context.Context, lock *Lock) error {
	i.repo.mu.Lock()
	defer i.repo.mu.Unlock()

	key := lockKey{domain: lock.LockDomainID, path: lock.Path}
	if _, exists := i.repo.locks[key]; exists {
		return fmt.Errorf("%w: %s", ErrLockExists, lock.Path)
	}
	i.repo.locks[key] = lock.Clone()
	return nil
}

func (i *memoryIndex) Unlock(ctx context.Context, domainID string, path tree.CanonicalPath) error {
	i.repo.mu.Lock()
	defer i.repo.mu.Unlock()

	key := lockKey{domain: domainID, path: path}
	if _, exists := i.repo.locks[key]; !exists {
		return fmt.Errorf("%w: %s", ErrLockNotFound, path)
	}
	delete(i.repo.locks, key)
	return nil
}

func (i *memoryIndex) GetLock(ctx context.Context, domainID string, path tree.CanonicalPath) (*Lock, error) {
	i.repo.mu.RLock()
	defer i.repo.mu.RUnlock()

	lock, ok := i.repo.locks[lockKey{domain: domainID, path: path}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockNotFound, path)
	}
	return lock.Clone(), nil
}

func (i *memoryIndex) ListLocks(ctx context.Context, domainID string) ([]*Lock, error) {
	i.repo.mu.RLock()
	defer i.repo.mu.RUnlock()

	var locks []*Lock
	for key, lock := range i.repo.locks {
		if key.domain == domainID {
			locks = append(locks, lock.Clone())
		}
	}
	sort.Slice(locks, func(a, b int) bool {
		return locks[a].Path < locks[b].Path
	})
	return locks, nil
}

func (i *memoryIndex) CountLocks(ctx context.Context, domainID string) (int, error) {
	i.repo.mu.RLock()
	defer i.repo.mu.RUnlock()

	count := 0
	for key := range i.repo.locks {
		if key.domain == domainID {
			count++
		}
	}
	return count, nil
}
