package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/quarry/core/index"
	"github.com/adalundhe/quarry/core/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the index server",
	Long:  `Serve the repository index over HTTP, backed by SQLite.`,
	RunE:  runServer,
}

var serverConfigPath string

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverConfigPath, "config", "", "Path to a YAML config file")
}

func loadServerConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return server.Config{}, fmt.Errorf("config %s does not exist", path)
	}
	if err != nil {
		return server.Config{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return server.Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(serverConfigPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	repos, err := index.NewSQLite(cfg.Database)
	if err != nil {
		return err
	}
	defer repos.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg.ListenAddr, repos, logger).Run(ctx)
}
