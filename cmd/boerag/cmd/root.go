// Package cmd provides the CLI commands for boerag.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/logging"
	"github.com/normadata/boerag/pkg/version"
)

// Global flags shared by every subcommand.
var (
	configPath   string
	dryRun       bool
	verbose      bool
	failOnErrors bool
	logFile      string

	rootLog    *slog.Logger
	logCleanup func()
)

// NewRootCmd creates the root command for the boerag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boerag",
		Short: "Legal-norm ingestion, indexing and retrieval pipeline",
		Long: `boerag ingests consolidated Spanish legislation from the BOE open-data
API, derives versioned semantic units with validity intervals, chunks
and embeds them into a vector store, and serves as-of retrieval over
the result.

Typical flow: discover -> sync -> build-unidades -> build-chunks ->
index, run inline or through the Redis-backed pipeline workers.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("boerag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the yaml config file")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Compute stats without writing to any store")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&failOnErrors, "fail-on-errors", false, "Exit non-zero when any per-norm work failed")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
		}
	}

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newBuildUnidadesCmd())
	cmd.AddCommand(newBuildChunksCmd())
	cmd.AddCommand(newBuildAllCmd())
	cmd.AddCommand(newRagCheckCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newPipelineCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	level := "info"
	if verbose {
		level = "debug"
	}
	log, cleanup, err := logging.Setup(logging.Config{
		Level:         level,
		FilePath:      logFile,
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	rootLog = log
	logCleanup = cleanup
	return nil
}

// loadConfig reads the effective configuration for the current flags.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// Execute runs the root command.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil && rootLog != nil {
		rootLog.Error("command failed", "error", err)
	}
	return err
}
