package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <path>...",
	Short: "Stage new files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit <path>...",
	Short: "Stage modifications to tracked files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <path>...",
	Short: "Stage file removals",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

var revertCmd = &cobra.Command{
	Use:   "revert [path]...",
	Short: "Drop staged changes and restore head content",
	Long:  `Drop staged changes for the given paths, or all of them with --all.`,
	RunE:  runRevert,
}

var revertAll bool

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(revertCmd)

	revertCmd.Flags().BoolVar(&revertAll, "all", false, "Revert every staged change and conflict")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	for _, arg := range args {
		change, err := ws.Add(cmd.Context(), arg)
		if err != nil {
			return err
		}
		fmt.Printf("added %s (%s)\n", change.Path, change.StagedHash.Short())
	}
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	for _, arg := range args {
		change, err := ws.Edit(cmd.Context(), arg)
		if err != nil {
			return err
		}
		fmt.Printf("staged %s (%s)\n", change.Path, change.StagedHash.Short())
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	for _, arg := range args {
		change, err := ws.Delete(cmd.Context(), arg)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", change.Path)
	}
	return nil
}

func runRevert(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	if revertAll {
		return ws.RevertAll(cmd.Context())
	}
	if len(args) == 0 {
		return fmt.Errorf("revert needs paths or --all")
	}
	for _, arg := range args {
		if err := ws.Revert(cmd.Context(), arg); err != nil {
			return err
		}
		fmt.Printf("reverted %s\n", arg)
	}
	return nil
}
