package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SS8816/rulequery/internal/athena"
	"github.com/SS8816/rulequery/internal/cache"
	"github.com/SS8816/rulequery/internal/cleanup"
	"github.com/SS8816/rulequery/internal/logging"
)

var (
	cleanupOlderThan int
	cleanupDryRun    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop stale materialized tables and reclaim their storage",
	Long: `Drop materialized tables older than --older-than days, delete their result
objects from the object store, and purge the matching cache entries. Entries
that fail to reclaim are kept and retried on the next run.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupOlderThan, "older-than", 7, "Minimum age in days")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report without dropping anything")

	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	logger := logging.GetLogger()

	store, err := cache.NewSQLiteStore(cfg.Cache.Path, cfg.Cache.TTL())
	if err != nil {
		return err
	}
	defer store.Close()

	executor, err := athena.NewClient(ctx, cfg.Athena, logger)
	if err != nil {
		return err
	}

	// Without a configured object store, tables are still dropped but the
	// result files stay behind.
	var objects cleanup.ObjectStore

	if cfg.Storage.Endpoint != "" {
		minioStore, err := cleanup.NewMinioStore(cfg.Storage)
		if err != nil {
			return err
		}

		objects = minioStore
	} else {
		logger.Warn("No storage endpoint configured, result objects will not be deleted")
	}

	reaper := cleanup.NewReaper(store, executor, objects, logger)

	report, err := reaper.Reap(ctx, cleanup.Options{
		OlderThanDays: cleanupOlderThan,
		DryRun:        cleanupDryRun,
	})
	if err != nil {
		return err
	}

	if cleanupDryRun {
		fmt.Printf("Would reclaim %d materialized tables.\n", report.Candidates)
		return nil
	}

	fmt.Printf("Candidates:      %d\n", report.Candidates)
	fmt.Printf("Tables dropped:  %d\n", report.TablesDropped)
	fmt.Printf("Objects removed: %d\n", report.ObjectsRemoved)
	fmt.Printf("Entries purged:  %d\n", report.EntriesPurged)

	if len(report.Errors) > 0 {
		fmt.Printf("\n%d entries failed:\n", len(report.Errors))

		for _, msg := range report.Errors {
			fmt.Printf("  %s\n", msg)
		}
	}

	return nil
}
