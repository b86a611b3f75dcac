package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/quarry/core/index"
)

var repositoryCmd = &cobra.Command{
	Use:   "repository",
	Short: "Repository management commands",
	Long:  `Create, destroy, and list repositories on an index backend.`,
}

var repositoryCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a repository",
	Long:  `Create a repository seeded with an empty main branch.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRepositoryCreate,
}

var repositoryDestroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Destroy a repository",
	Long:  `Remove a repository and everything it stores.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRepositoryDestroy,
}

var repositoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories",
	RunE:  runRepositoryList,
}

var repositoryIndexURL string

func init() {
	rootCmd.AddCommand(repositoryCmd)
	repositoryCmd.AddCommand(repositoryCreateCmd)
	repositoryCmd.AddCommand(repositoryDestroyCmd)
	repositoryCmd.AddCommand(repositoryListCmd)

	repositoryCmd.PersistentFlags().StringVar(&repositoryIndexURL, "index", "mem:", "Index backend URL (mem:, sqlite:path, or http(s)://host)")
}

func runRepositoryCreate(cmd *cobra.Command, args []string) error {
	repos, err := index.Open(repositoryIndexURL)
	if err != nil {
		return err
	}
	defer repos.Close()

	if err := repos.CreateRepository(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("created repository %s\n", args[0])
	return nil
}

func runRepositoryDestroy(cmd *cobra.Command, args []string) error {
	repos, err := index.Open(repositoryIndexURL)
	if err != nil {
		return err
	}
	defer repos.Close()

	if err := repos.DestroyRepository(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("destroyed repository %s\n", args[0])
	return nil
}

func runRepositoryList(cmd *cobra.Command, args []string) error {
	repos, err := index.Open(repositoryIndexURL)
	if err != nil {
		return err
	}
	defer repos.Close()

	names, err := repos.ListRepositories(cmd.Context())
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
