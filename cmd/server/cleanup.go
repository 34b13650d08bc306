package main

import (
	"context"

	"github.com/spf13/cobra"
)

var cleanupOlderThanDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished workflow executions",
	Long: `Delete execution records that ended before the retention cutoff.
Running and pending executions are never removed.`,
	Example: `  # use workflow.retention_days from the config
  server cleanup

  # remove everything that ended more than a week ago
  server cleanup --older-than-days 7`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupOlderThanDays, "older-than-days", 0, "retention in days (defaults to workflow.retention_days)")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	days := cfg.Workflow.RetentionDays
	if cmd.Flags().Changed("older-than-days") {
		days = cleanupOlderThanDays
	}
	removed, err := a.mgr.CleanupExecutions(ctx, days)
	if err != nil {
		return err
	}
	logger.Info("Cleanup complete", "removed", removed, "older_than_days", days)
	return nil
}
