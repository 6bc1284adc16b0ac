// Package cmd provides the CLI commands for clementine.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/clementine-kb/clementine/internal/logging"
	"github.com/clementine-kb/clementine/internal/version"
)

var (
	debugMode      bool
	dataDirFlag    string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the clementine CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clementine",
		Short: "Per-tenant hybrid retrieval over document collections",
		Long: `Clementine keeps a passage store in sync with document sources and
serves hybrid (keyword + semantic) retrieval over it.

Each scope is an isolated tenant: its documents sync as atomic
generations, so readers never observe a half-updated source.

Start with 'clementine sync --manifest clementine.yaml', then query
with 'clementine search'.`,
		Version: version.Short(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("clementine version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.clementine/logs/")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the data directory (default ~/.clementine)")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
