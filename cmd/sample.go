package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/review-harvester/internal/input"
)

func newSampleCmd(root *rootOptions) *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write an example input CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(root)
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			path := cfg.Run.CSV
			if cmd.Flags().Changed("csv") {
				path = csvPath
			}
			if err := input.WriteSample(path); err != nil {
				return fmt.Errorf("write sample: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d example URLs to %s\n", len(input.SampleURLs), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "attraction_urls.csv", "path of the CSV to write")
	return cmd
}
