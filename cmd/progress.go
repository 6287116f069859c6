package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/review-harvester/internal/progress"
	"github.com/JakeFAU/review-harvester/internal/server"
)

func newProgressCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or reset the checkpoint",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the checkpoint counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProgressShow(cmd, root)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete the checkpoint so the next run starts from scratch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProgressReset(cmd, root)
		},
	})
	return cmd
}

func runProgressShow(cmd *cobra.Command, root *rootOptions) error {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	out := cmd.OutOrStdout()
	if _, err := os.Stat(cfg.Progress.Path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "No progress recorded yet.")
		return nil
	}
	store, err := server.OpenCheckpoint(cfg, logger)
	if err != nil {
		return err
	}
	snap := store.Snapshot()
	fmt.Fprintf(out, "Progress (%s):\n", store.Path())
	fmt.Fprintf(out, "  processed: %d\n", snap.Processed)
	fmt.Fprintf(out, "  succeeded: %d\n", snap.Succeeded)
	fmt.Fprintf(out, "  failed:    %d\n", snap.Failed)
	if snap.Retrying > 0 {
		fmt.Fprintf(out, "  retrying:  %d\n", snap.Retrying)
	}
	if !snap.SavedAt.IsZero() {
		fmt.Fprintf(out, "  saved at:  %s\n", snap.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runProgressReset(cmd *cobra.Command, root *rootOptions) error {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	// Reset does not load the file, so a corrupt checkpoint can be cleared too.
	store, err := progress.New(progress.Config{Path: cfg.Progress.Path}, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	if err := store.Reset(); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Progress reset.")
	return nil
}
