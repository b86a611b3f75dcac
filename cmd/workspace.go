package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/adalundhe/quarry/core/workspace"
)

var workspaceInitCmd = &cobra.Command{
	Use:   "init <directory>",
	Short: "Initialize a workspace",
	Long:  `Check out a branch of a repository into a local workspace.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show staged changes and unresolved conflicts",
	RunE:  runStatus,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show commit history from the workspace head",
	RunE:  runLog,
}

var diffCmd = &cobra.Command{
	Use:   "diff [path]",
	Short: "Show staged changes against the head snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiff,
}

var (
	initIndexURL string
	initRepo     string
	initBlobURL  string
	initBranch   string
	initOwner    string
	logDepth     int
)

func init() {
	rootCmd.AddCommand(workspaceInitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(diffCmd)

	workspaceInitCmd.Flags().StringVar(&initIndexURL, "index", "mem:", "Index backend URL")
	workspaceInitCmd.Flags().StringVar(&initRepo, "repository", "", "Repository name")
	workspaceInitCmd.Flags().StringVar(&initBlobURL, "blobs", "mem:", "Blob store URL")
	workspaceInitCmd.Flags().StringVar(&initBranch, "branch", "", "Branch to check out (defaults to main)")
	workspaceInitCmd.Flags().StringVar(&initOwner, "owner", "", "Owner recorded on commits (defaults to the OS user)")
	workspaceInitCmd.MarkFlagRequired("repository")

	logCmd.Flags().IntVar(&logDepth, "depth", 20, "Number of commits to show (0 for all)")
}

func runWorkspaceInit(cmd *cobra.Command, args []string) error {
	ws, err := workspace.Init(cmd.Context(), workspace.Options{
		Root:           args[0],
		RepositoryURL:  initIndexURL,
		RepositoryName: initRepo,
		BlobStoreURL:   initBlobURL,
		Branch:         initBranch,
		Owner:          initOwner,
	})
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Printf("workspace %s on %s at %s\n", ws.ID, ws.Branch, ws.Head.Short())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	status, err := ws.Status(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("on branch %s at %s\n", status.Branch, status.Head.Short())
	if status.Clean() {
		fmt.Println("nothing staged")
		return nil
	}

	for _, entry := range status.Staged {
		note := ""
		if entry.Drifted {
			note = " (disk differs from staged content)"
		}
		if entry.Unchanged {
			note = " (identical to head, will not commit)"
		}
		fmt.Printf("  %-8s %s%s\n", entry.Change.Type, entry.Change.Path, note)
	}
	for _, pending := range status.Resolves {
		fmt.Printf("  conflict %s (base %s, theirs %s)\n",
			pending.Path, pending.BaseCommit.Short(), pending.TheirsCommit.Short())
	}
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	history, err := ws.History(cmd.Context(), logDepth)
	if err != nil {
		return err
	}
	for _, c := range history {
		marker := ""
		if c.IsMerge() {
			marker = " (merge)"
		}
		fmt.Printf("%s %s %s %s%s\n",
			c.ID.Short(), c.Timestamp.Format("2006-01-02 15:04"), c.Owner, c.Message, marker)
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	status, err := ws.Status(cmd.Context())
	if err != nil {
		return err
	}

	for _, entry := range status.Staged {
		path := entry.Change.Path.String()
		if len(args) == 1 && path != args[0] {
			continue
		}
		if err := printUnifiedDiff(cmd, ws, path); err != nil {
			return err
		}
	}
	return nil
}

func printUnifiedDiff(cmd *cobra.Command, ws *workspace.Workspace, path string) error {
	base, err := ws.BaseContent(cmd.Context(), path)
	if err != nil {
		return err
	}
	current, err := os.ReadFile(filepath.Join(ws.Root, filepath.FromSlash(path)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(base)),
		B:        difflib.SplitLines(string(current)),
		FromFile: fmt.Sprintf("%s@%s", path, ws.Head.Short()),
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		return err
	}
	if text != "" {
		fmt.Print(text)
	}
	return nil
}
