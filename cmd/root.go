package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry - branch and lock version control for large binary projects",
	Long: `Quarry is a version control engine built for teams working on large
mixed text/binary projects. It tracks content-addressed snapshots, merges
branches with shared lock domains, and speaks to a local, SQL, or remote
index backend.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}
