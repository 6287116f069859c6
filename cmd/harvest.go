package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/input"
	"github.com/JakeFAU/review-harvester/internal/server"
)

type harvestOptions struct {
	csv     string
	threads int
	test    bool
	limit   int
	langs   string
	noDB    bool
	addr    string
}

func addHarvestFlags(cmd *cobra.Command, opts *harvestOptions) {
	flags := cmd.Flags()
	flags.StringVar(&opts.csv, "csv", "attraction_urls.csv", "CSV file with a url column")
	flags.IntVar(&opts.threads, "threads", 3, "number of concurrent workers")
	flags.BoolVar(&opts.test, "test", false, "test mode: process at most the first 3 pending URLs")
	flags.IntVar(&opts.limit, "limit", 0, "process at most N pending URLs (0 = all)")
	flags.StringVar(&opts.langs, "langs", "all", `comma-separated languages, e.g. "zhCN,en"; "all" discovers them`)
	flags.BoolVar(&opts.noDB, "no-db", false, "skip the database; write documents and the audit log only")
	flags.StringVar(&opts.addr, "status-addr", "", "serve /healthz, /metrics, and /v1/progress on this address")
}

// apply copies explicitly set flags over the loaded configuration.
func (o *harvestOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("csv") {
		cfg.Run.CSV = o.csv
	}
	if flags.Changed("threads") {
		cfg.Run.Threads = o.threads
	}
	if flags.Changed("test") {
		cfg.Run.Test = o.test
	}
	if flags.Changed("limit") {
		cfg.Run.Limit = o.limit
	}
	if flags.Changed("langs") {
		cfg.Run.Langs = o.langs
	}
	if flags.Changed("no-db") {
		cfg.DB.Disabled = o.noDB
	}
	if flags.Changed("status-addr") {
		cfg.Server.Addr = o.addr
	}
}

func newHarvestCmd(root *rootOptions) *cobra.Command {
	opts := &harvestOptions{}
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest reviews for every pending URL in the input CSV",
		Long: `Harvest reads the input CSV, skips URLs already recorded in the checkpoint,
and processes the rest with a bounded pool of workers. SIGINT or SIGTERM stops
scheduling, lets in-flight work finish, and saves the checkpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, root, opts)
		},
	}
	addHarvestFlags(cmd, opts)
	return cmd
}

func runHarvest(cmd *cobra.Command, root *rootOptions, opts *harvestOptions) error {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	opts.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	urls, err := input.ReadURLs(cfg.Run.CSV)
	if err != nil {
		return fmt.Errorf("read input list: %w", err)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs in %s; run the sample command to create an example file", cfg.Run.CSV)
	}

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Harvest(ctx, urls)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("harvest interrupted, progress saved",
				zap.Int("completed", summary.Completed),
				zap.Int("remaining", summary.Remaining),
			)
			return nil
		}
		return fmt.Errorf("harvest: %w", err)
	}
	if summary.Scheduled == 0 {
		logger.Info("all URLs already processed",
			zap.Int("succeeded", summary.Progress.Succeeded),
			zap.Int("failed", summary.Progress.Failed),
		)
	}
	return nil
}
