package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/tree"
)

const objectCacheSize = 4096

// Client is the thin RepositoryIndex proxy speaking the JSON API served by
// core/server. Commits and trees are content addressed and immutable, so the
// client keeps them in LRU caches to spare round trips.
type Client struct {
	baseURL string
	http    *http.Client

	commitCache *lru.Cache[string, *commit.Commit]
	treeCache   *lru.Cache[string, *tree.Tree]
}

func NewClient(baseURL string) (*Client, error) {
	commitCache, err := lru.New[string, *commit.Commit](objectCacheSize)
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	treeCache, err := lru.New[string, *tree.Tree](objectCacheSize)
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		commitCache: commitCache,
		treeCache:   treeCache,
	}, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// decodeError reconstructs the taxonomy sentinel the server reported, so
// errors.Is works identically against every backend.
func decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var wire errorResponse
	if err := json.Unmarshal(payload, &wire); err == nil && wire.Error != "" {
		if sentinel, ok := ErrorFromCode(wire.Code); ok {
			return fmt.Errorf("%w: %s", sentinel, wire.Error)
		}
		return errors.New(wire.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

func (c *Client) CreateRepository(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/repositories/"+url.PathEscape(name), nil, nil)
}

func (c *Client) DestroyRepository(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/repositories/"+url.PathEscape(name), nil, nil)
}

func (c *Client) RepositoryExists(ctx context.Context, name string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/api/v1/repositories/"+url.PathEscape(name), nil, nil)
	if errors.Is(err, ErrRepositoryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) ListRepositories(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/api/v1/repositories", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) OpenRepository(ctx context.Context, name string) (Index, error) {
	exists, err := c.RepositoryExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}
	return &clientIndex{client: c, repo: name}, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type clientIndex struct {
	client *Client
	repo   string
}

func (i *clientIndex) path(suffix string) string {
	return "/api/v1/repositories/" + url.PathEscape(i.repo) + suffix
}

func (i *clientIndex) GetBranch(ctx context.Context, name string) (*Branch, error) {
	var branch Branch
	err := i.client.do(ctx, http.MethodGet, i.path("/branches/"+url.PathEscape(name)), nil, &branch)
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

func (i *clientIndex) ListBranches(ctx context.Context) ([]*Branch, error) {
	var branches []*Branch
	if err := i.client.do(ctx, http.MethodGet, i.path("/branches"), nil, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

func (i *clientIndex) InsertBranch(ctx context.Context, branch *Branch) error {
	return i.client.do(ctx, http.MethodPost, i.path("/branches"), branch, nil)
}

type updateBranchRequest struct {
	Branch       *Branch `json:"branch"`
	ExpectedHead string  `json:"expected_head"`
}

func (i *clientIndex) UpdateBranch(ctx context.Context, branch *Branch, expectedHead commit.CommitID) error {
	request := updateBranchRequest{
		Branch:       branch,
		ExpectedHead: headValue(expectedHead),
	}
	return i.client.do(ctx, http.MethodPut, i.path("/branches/"+url.PathEscape(branch.Name)), request, nil)
}

func (i *clientIndex) GetCommit(ctx context.Context, id commit.CommitID) (*commit.Commit, error) {
	cacheKey := i.repo + "/" + id.String()
	if cached, ok := i.client.commitCache.Get(cacheKey); ok {
		return cached.Clone(), nil
	}

	var c commit.Commit
	if err := i.client.do(ctx, http.MethodGet, i.path("/commits/"+id.String()), nil, &c); err != nil {
		return nil, err
	}
	i.client.commitCache.Add(cacheKey, c.Clone())
	return &c, nil
}

func (i *clientIndex) ListCommits(ctx context.Context, from commit.CommitID, depth int) ([]*commit.Commit, error) {
	path := i.path("/commits") + "?from=" + from.String() + "&depth=" + strconv.Itoa(depth)
	var commits []*commit.Commit
	if err := i.client.do(ctx, http.MethodGet, path, nil, &commits); err != nil {
		return nil, err
	}
	return commits, nil
}

type commitToBranchRequest struct {
	Commit *commit.Commit `json:"commit"`
	Branch string         `json:"branch"`
}

func (i *clientIndex) CommitToBranch(ctx context.Context, c *commit.Commit, branchName string) error {
	request := commitToBranchRequest{Commit: c, Branch: branchName}
	return i.client.do(ctx, http.MethodPost, i.path("/commits"), request, nil)
}

func (i *clientIndex) GetTree(ctx context.Context, id tree.TreeID) (*tree.Tree, error) {
	cacheKey := i.repo + "/" + id.String()
	if cached, ok := i.client.treeCache.Get(cacheKey); ok {
		return cached.Clone(), nil
	}

	var t tree.Tree
	if err := i.client.do(ctx, http.MethodGet, i.path("/trees/"+id.String()), nil, &t); err != nil {
		return nil, err
	}
	i.client.treeCache.Add(cacheKey, t.Clone())
	return &t, nil
}

type saveTreeResponse struct {
	ID string `json:"id"`
}

func (i *clientIndex) SaveTree(ctx context.Context, t *tree.Tree) (tree.TreeID, error) {
	var resp saveTreeResponse
	if err := i.client.do(ctx, http.MethodPost, i.path("/trees"), t, &resp); err != nil {
		return tree.TreeID{}, err
	}
	id, err := tree.ParseTreeID(resp.ID)
	if err != nil {
		return tree.TreeID{}, fmt.Errorf("save tree: %w", err)
	}
	i.client.treeCache.Add(i.repo+"/"+resp.ID, t.Clone())
	return id, nil
}

func lockQuery(domainID string, path tree.CanonicalPath) string {
	values := url.Values{}
	values.Set("domain", domainID)
	if path != "" {
		values.Set("path", path.String())
	}
	return "?" + values.Encode()
}

func (i *clientIndex) Lock(ctx context.Context, lock *Lock) error {
	return i.client.do(ctx, http.MethodPost, i.path("/locks"), lock, nil)
}

func (i *clientIndex) Unlock(ctx context.Context, domainID string, path tree.CanonicalPath) error {
	return i.client.do(ctx, http.MethodDelete, i.path("/locks")+lockQuery(domainID, path), nil, nil)
}

func (i *clientIndex) GetLock(ctx context.Context, domainID string, path tree.CanonicalPath) (*Lock, error) {
	var lock Lock
	err := i.client.do(ctx, http.MethodGet, i.path("/locks/find")+lockQuery(domainID, path), nil, &lock)
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (i *clientIndex) ListLocks(ctx context.Context, domainID string) ([]*Lock, error) {
	var locks []*Lock
	err := i.client.do(ctx, http.MethodGet, i.path("/locks")+lockQuery(domainID, ""), nil, &locks)
	if err != nil {
		return nil, err
	}
	return locks, nil
}

type countLocksResponse struct {
	Count int `json:"count"`
}

func (i *clientIndex) CountLocks(ctx context.Context, domainID string) (int, error) {
	var resp countLocksResponse
	err := i.client.do(ctx, http.MethodGet, i.path("/locks/count")+lockQuery(domainID, ""), nil, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}
