package index

import (
	"errors"
	"net/http"

	"github.com/adalundhe/quarry/core/commit"
	"github.com/adalundhe/quarry/core/tree"
)

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrRepositoryExists   = errors.New("repository already exists")
	ErrBranchNotFound     = errors.New("branch not found")
	ErrBranchExists       = errors.New("branch already exists")
	ErrTreeNotFound       = errors.New("tree not found")
	ErrLockNotFound       = errors.New("lock not found")
	ErrLockExists         = errors.New("lock already exists")

	// ErrStaleHead is the compare-and-swap rejection: the stored branch head
	// no longer matches what the caller observed. The required remedy is to
	// sync and retry, never an internal retry.
	ErrStaleHead = errors.New("branch head is stale")
)

// errorCodes gives every taxonomy member a stable wire identity so the HTTP
// client can surface the exact sentinel the server hit.
var errorCodes = []struct {
	code   string
	status int
	err    error
}{
	{"repository_not_found", http.StatusNotFound, ErrRepositoryNotFound},
	{"repository_exists", http.StatusConflict, ErrRepositoryExists},
	{"branch_not_found", http.StatusNotFound, ErrBranchNotFound},
	{"branch_exists", http.StatusConflict, ErrBranchExists},
	{"commit_not_found", http.StatusNotFound, commit.ErrNotFound},
	{"missing_parent", http.StatusBadRequest, commit.ErrMissingParent},
	{"tree_not_found", http.StatusNotFound, ErrTreeNotFound},
	{"lock_not_found", http.StatusNotFound, ErrLockNotFound},
	{"lock_exists", http.StatusConflict, ErrLockExists},
	{"stale_head", http.StatusConflict, ErrStaleHead},
	{"invalid_path", http.StatusBadRequest, tree.ErrInvalidPath},
}

// ErrorCode maps err onto its wire code, or "" for unclassified errors.
func ErrorCode(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ""
}

// ErrorStatus maps err onto an HTTP status; unclassified errors are 500s.
func ErrorStatus(err error) int {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

// ErrorFromCode reverses ErrorCode on the client side.
func ErrorFromCode(code string) (error, bool) {
	for _, entry := range errorCodes {
		if entry.code == code {
			return entry.err, true
		}
	}
	return nil, false
}
