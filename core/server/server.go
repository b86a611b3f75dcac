// Package server exposes a RepositoryIndex over a JSON HTTP API. The routes
// map one to one onto the index contract, and every taxonomy error crosses
// the wire with a stable code so clients can reconstruct the exact sentinel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/index"
	"github.com/adalundhe/quarry/core/tree"
)

// Server wraps the HTTP server configuration and dependencies.
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Database   string `yaml:"database"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":7860",
		Database:   "quarry-index.db",
	}
}

func New(addr string, repos index.RepositoryIndex, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		handler: Handler(repos, logger),
		logger:  logger,
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("index server listening", "addr", s.addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler builds the REST routes over the repository index.
func Handler(repos index.RepositoryIndex, logger *slog.Logger) http.Handler {
	api := &apiHandler{repos: repos, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/v1/repositories", api.listRepositories)
	mux.HandleFunc("PUT /api/v1/repositories/{repo}", api.createRepository)
	mux.HandleFunc("GET /api/v1/repositories/{repo}", api.getRepository)
	mux.HandleFunc("DELETE /api/v1/repositories/{repo}", api.destroyRepository)

	mux.HandleFunc("GET /api/v1/repositories/{repo}/branches", api.listBranches)
	mux.HandleFunc("GET /api/v1/repositories/{repo}/branches/{branch}", api.getBranch)
	mux.HandleFunc("POST /api/v1/repositories/{repo}/branches", api.insertBranch)
	mux.HandleFunc("PUT /api/v1/repositories/{repo}/branches/{branch}", api.updateBranch)

	mux.HandleFunc("GET /api/v1/repositories/{repo}/commits", api.listCommits)
	mux.HandleFunc("GET /api/v1/repositories/{repo}/commits/{id}", api.getCommit)
	mux.HandleFunc("POST /api/v1/repositories/{repo}/commits", api.commitToBranch)

	mux.HandleFunc("GET /api/v1/repositories/{repo}/trees/{id}", api.getTree)
	mux.HandleFunc("POST /api/v1/repositories/{repo}/trees", api.saveTree)

	mux.HandleFunc("POST /api/v1/repositories/{repo}/locks", api.lock)
	mux.HandleFunc("DELETE /api/v1/repositories/{repo}/locks", api.unlock)
	mux.HandleFunc("GET /api/v1/repositories/{repo}/locks", api.listLocks)
	mux.HandleFunc("GET /api/v1/repositories/{repo}/locks/find", api.getLock)
	mux.HandleFunc("GET /api/v1/repositories/{repo}/locks/count", api.countLocks)

	return mux
}

type apiHandler struct {
	repos  index.RepositoryIndex
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *apiHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := index.ErrorStatus(err)
	if status >= 500 {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: index.ErrorCode(err)})
}

func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (h *apiHandler) openIndex(w http.ResponseWriter, r *http.Request) (index.Index, bool) {
	idx, err := h.repos.OpenRepository(r.Context(), r.PathValue("repo"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return idx, true
}

func (h *apiHandler) listRepositories(w http.ResponseWriter, r *http.Request) {
	names, err := h.repos.ListRepositories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *apiHandler) createRepository(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.CreateRepository(r.Context(), r.PathValue("repo")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": r.PathValue("repo")})
}

func (h *apiHandler) getRepository(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("repo")
	exists, err := h.repos.RepositoryExists(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !exists {
		h.writeError(w, r, fmt.Errorf("%w: %s", index.ErrRepositoryNotFound, name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (h *apiHandler) destroyRepository(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.DestroyRepository(r.Context(), r.PathValue("repo")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": r.PathValue("repo")})
}

func (h *apiHandler) listBranches(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	branches, err := idx.ListBranches(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if branches == nil {
		branches = []*index.Branch{}
	}
	writeJSON(w, http.StatusOK, branches)
}

func (h *apiHandler) getBranch(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	branch, err := idx.GetBranch(r.Context(), r.PathValue("branch"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

func (h *apiHandler) insertBranch(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	var branch index.Branch
	if err := decodeBody(r, &branch); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := idx.InsertBranch(r.Context(), &branch); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

type updateBranchRequest struct {
	Branch       *index.Branch `json:"branch"`
	ExpectedHead string        `json:"expected_head"`
}

func (h *apiHandler) updateBranch(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	var request updateBranchRequest
	if err := decodeBody(r, &request); err != nil {
		h.writeError(w, r, err)
		return
	}
	if request.Branch == nil || request.Branch.Name != r.PathValue("branch") {
		h.writeError(w, r, errors.New("branch name mismatch"))
		return
	}

	var expected commit.CommitID
	if request.ExpectedHead != "" {
		parsed, err := commit.ParseCommitID(request.ExpectedHead)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		expected = parsed
	}
	if err := idx.UpdateBranch(r.Context(), request.Branch, expected); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request.Branch)
}

func (h *apiHandler) listCommits(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}

	var from commit.CommitID
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := commit.ParseCommitID(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		from = parsed
	}
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("invalid depth %q", raw))
			return
		}
		depth = parsed
	}

	commits, err := idx.ListCommits(r.Context(), from, depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if commits == nil {
		commits = []*commit.Commit{}
	}
	writeJSON(w, http.StatusOK, commits)
}

func (h *apiHandler) getCommit(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	id, err := commit.ParseCommitID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := idx.GetCommit(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type commitToBranchRequest struct {
	Commit *commit.Commit `json:"commit"`
	Branch string         `json:"branch"`
}

func (h *apiHandler) commitToBranch(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	var request commitToBranchRequest
	if err := decodeBody(r, &request); err != nil {
		h.writeError(w, r, err)
		return
	}
	if request.Commit == nil || request.Branch == "" {
		h.writeError(w, r, errors.New("commit and branch are required"))
		return
	}
	if err := idx.CommitToBranch(r.Context(), request.Commit, request.Branch); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, request.Commit)
}

func (h *apiHandler) getTree(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	id, err := tree.ParseTreeID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := idx.GetTree(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *apiHandler) saveTree(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	var t tree.Tree
	if err := decodeBody(r, &t); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := idx.SaveTree(r.Context(), &t)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *apiHandler) lock(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	var lock index.Lock
	if err := decodeBody(r, &lock); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := idx.Lock(r.Context(), &lock); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lock)
}

func lockParams(r *http.Request) (string, tree.CanonicalPath, error) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		return "", "", errors.New("domain is required")
	}
	raw := r.URL.Query().Get("path")
	if raw == "" {
		return domain, "", nil
	}
	path, err := tree.ParseCanonicalPath(raw)
	if err != nil {
		return "", "", err
	}
	return domain, path, nil
}

func (h *apiHandler) unlock(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	domain, path, err := lockParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := idx.Unlock(r.Context(), domain, path); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path.String()})
}

func (h *apiHandler) getLock(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	domain, path, err := lockParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lock, err := idx.GetLock(r.Context(), domain, path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

func (h *apiHandler) listLocks(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	domain, _, err := lockParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	locks, err := idx.ListLocks(r.Context(), domain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if locks == nil {
		locks = []*index.Lock{}
	}
	writeJSON(w, http.StatusOK, locks)
}

func (h *apiHandler) countLocks(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.openIndex(w, r)
	if !ok {
		return
	}
	domain, _, err := lockParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	count, err := idx.CountLocks(r.Context(), domain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}
