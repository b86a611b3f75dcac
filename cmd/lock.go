package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock <path>...",
	Short: "Take advisory locks in the branch's lock domain",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLock,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <path>...",
	Short: "Release advisory locks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnlock,
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List locks in the branch's lock domain",
	RunE:  runLocks,
}

func init() {
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(locksCmd)
}

func runLock(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	for _, arg := range args {
		if err := ws.LockFile(cmd.Context(), arg); err != nil {
			return err
		}
		fmt.Printf("locked %s\n", arg)
	}
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	for _, arg := range args {
		if err := ws.UnlockFile(cmd.Context(), arg); err != nil {
			return err
		}
		fmt.Printf("unlocked %s\n", arg)
	}
	return nil
}

func runLocks(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	defer ws.Close()

	locks, err := ws.Locks(cmd.Context())
	if err != nil {
		return err
	}
	for _, lock := range locks {
		fmt.Printf("%s held by workspace %s (branch %s)\n", lock.Path, lock.WorkspaceID, lock.Branch)
	}
	return nil
}
