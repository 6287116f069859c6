// Package cmd defines the harvester CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/logging"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	root := &rootOptions{}
	harvestOpts := &harvestOptions{}

	cmd := &cobra.Command{
		Use:   "review-harvester",
		Short: "Harvest attraction reviews into documents, records, and an audit log.",
		Long: `review-harvester reads a CSV of attraction URLs and collects every review
of each attraction from the listing API. Each committed attraction produces a
JSON document, a database record, and an audit log row. Progress is checkpointed
so an interrupted run resumes where it stopped.

Running without a subcommand is the same as "harvest".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, root, harvestOpts)
		},
	}
	cmd.PersistentFlags().StringVar(&root.configFile, "config", "", "config file (YAML, JSON, or TOML)")
	addHarvestFlags(cmd, harvestOpts)

	cmd.AddCommand(newHarvestCmd(root))
	cmd.AddCommand(newProgressCmd(root))
	cmd.AddCommand(newSampleCmd(root))
	return cmd
}

// loadConfig reads configuration and builds the logger for a command.
func loadConfig(root *rootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(root.configFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func syncLogger(logger *zap.Logger) {
	// Sync on a console sink returns EINVAL on some platforms; nothing to do about it.
	_ = logger.Sync()
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
