package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adalundhe/quarry/core/workspace"
)

// findWorkspaceRoot walks upward from the working directory until it finds a
// workspace metadata directory.
func findWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".quarry", "workspace.yaml")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no workspace found above %s", workspace.ErrNotInitialized, dir)
		}
		dir = parent
	}
}

func openWorkspace(ctx context.Context) (*workspace.Workspace, error) {
	root, err := findWorkspaceRoot()
	if err != nil {
		return nil, err
	}
	return workspace.Load(ctx, root)
}
