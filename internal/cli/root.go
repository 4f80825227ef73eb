// Package cli provides the command-line interface for desertyard.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreschagin/desertyard/pkg/config"
	"github.com/dreschagin/desertyard/pkg/logger"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "localdev"
)

var rootCmd = &cobra.Command{
	Use:           "desertyard",
	Short:         "Capture traffic camera snapshots into object storage",
	Long:          "desertyard periodically fetches traffic camera images, stores each distinct frame in S3-compatible storage under a content-addressed key, and serves an index of stored snapshots.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "desertyard %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(reindexCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// bootstrap загружает конфигурацию, создает logger и собирает зависимости
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Getenv("LOG_LEVEL"))
	log.Info("Starting desertyard", "version", Version, "commit", Commit, "sources", len(cfg.Capture.Sources))

	return newApp(ctx, cfg, log)
}
