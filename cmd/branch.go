package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Branch management commands",
	Long:  `Create, switch, detach, attach, and merge branches.`,
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a branch from the current workspace state",
	Long: `Snapshot the workspace into a commit on a new branch. The branch
inherits the current branch's lock domain.`,
	Args: cobra.ExactArgs(1),
	RunE: runBranchCreate,
}

var branchSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Check out another branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranchSwitch,
}

var branchDetachCmd = &cobra.Command{
	Use:   "detach",
	Short: "Move the branch family onto a fresh lock domain",
	RunE:  runBranchDetach,
}

var branchAttachCmd = &cobra.Command{
	Use:   "attach <parent>",
	Short: "Attach the branch under a parent, unioning lock domains",
	Args:  cobra.ExactArgs(1),
	RunE:  runBranchAttach,
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List branches",
	RunE:  runBranchList,
}

var mergeCmd = &cobra.Command{
	Use:   "merge <branch>",
	Short: "Merge another branch into the current one",
	Args:  cobra.ExactArgs(1),
	RunE:  runMerge,
}

func init() {
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(mergeCmd)
	branchCmd.AddCommand(branchCreateCmd)
	branchCmd.AddCommand(branchSwitchCmd)
	branchCmd.AddCommand(branchDetachCmd)
	branchCmd.AddCommand(branchAttachCmd)
	branchCmd.AddCommand(branchListCmd)
}

func runBranchCreate(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	snapshot, err := ws.CreateBranch(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("created branch %s at %s\n", args[0], snapshot.ID.Short())
	return nil
}

func runBranchSwitch(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.SwitchBranch(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("on branch %s at %s\n", ws.Branch, ws.Head.Short())
	return nil
}

func runBranchDetach(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	domain, err := ws.DetachBranch(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("detached %s onto lock domain %s\n", ws.Branch, domain)
	return nil
}

func runBranchAttach(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.AttachBranch(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("attached %s under %s\n", ws.Branch, args[0])
	return nil
}

func runBranchList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	branches, err := ws.Index().ListBranches(cmd.Context())
	if err != nil {
		return err
	}
	for _, branch := range branches {
		marker := " "
		if branch.Name == ws.Branch {
			marker = "*"
		}
		parent := branch.Parent
		if parent == "" {
			parent = "-"
		}
		fmt.Printf("%s %-20s %s parent=%s domain=%s\n",
			marker, branch.Name, branch.Head.Short(), parent, branch.LockDomainID)
	}
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	merged, err := ws.Merge(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if merged == nil {
		fmt.Printf("%s is up to date with %s at %s\n", ws.Branch, args[0], ws.Head.Short())
		return nil
	}
	fmt.Printf("merged %s into %s as %s\n", args[0], ws.Branch, merged.ID.Short())
	return nil
}
