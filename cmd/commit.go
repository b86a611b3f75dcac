package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/quarry/core/workspace"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Publish staged changes as a new commit",
	RunE:  runCommit,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Advance the workspace to the branch head",
	RunE:  runSync,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Reconcile a conflicted path with a three-way merge",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var (
	commitMessage string
	resolveForce  bool
)

func init() {
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resolveCmd)

	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message")
	commitCmd.MarkFlagRequired("message")

	resolveCmd.Flags().BoolVar(&resolveForce, "force", false, "Accept the on-disk content as the resolution")
}

func runCommit(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	created, err := ws.Commit(cmd.Context(), commitMessage)
	if errors.Is(err, workspace.ErrNotAtHead) {
		return fmt.Errorf("%w; run 'quarry sync' and retry", err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("committed %s on %s\n", created.ID.Short(), ws.Branch)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	report, err := ws.Sync(cmd.Context())
	if err != nil {
		return err
	}
	if report.From.Equal(report.To) {
		fmt.Println("already up to date")
		return nil
	}

	fmt.Printf("synced %s -> %s\n", report.From.Short(), report.To.Short())
	for _, change := range report.Applied {
		fmt.Printf("  %-8s %s\n", change.Type, change.Path)
	}
	for _, deferred := range report.Deferred {
		fmt.Printf("  conflict %s (resolve before committing)\n", deferred.Path)
	}
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.Resolve(cmd.Context(), args[0], resolveForce); err != nil {
		return err
	}
	fmt.Printf("resolved %s\n", args[0])
	return nil
}
