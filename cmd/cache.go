package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SS8816/rulequery/internal/cache"
)

var (
	cacheListDatabase       string
	cacheInvalidateDatabase string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the query result cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCacheStore(cmd.Context(), runCacheList)
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCacheStore(cmd.Context(), runCacheStats)
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete entries past their TTL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withCacheStore(cmd.Context(), runCachePurge)
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <category>",
	Short: "Delete the entry for one rule category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCacheStore(cmd.Context(), func(ctx context.Context, store cache.Store) error {
			return runCacheInvalidate(ctx, store, args[0])
		})
	},
}

func init() {
	cacheListCmd.Flags().StringVar(&cacheListDatabase, "database", "", "Only show entries for this database")
	cacheInvalidateCmd.Flags().StringVar(&cacheInvalidateDatabase, "database", "", "Database of the entry (required)")
	_ = cacheInvalidateCmd.MarkFlagRequired("database")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func withCacheStore(ctx context.Context, fn func(context.Context, cache.Store) error) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	store, err := cache.NewSQLiteStore(cfg.Cache.Path, cfg.Cache.TTL())
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func runCacheList(ctx context.Context, store cache.Store) error {
	entries, err := store.ListAll(ctx, cacheListDatabase)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	for _, entry := range entries {
		fmt.Printf("%s  %s\n", entry.RuleCategory, entry.Database)
		fmt.Printf("  Query:   %s\n", entry.NLQuery)
		fmt.Printf("  Table:   %s\n", entry.MaterializedTable)
		fmt.Printf("  Rows:    %d  Scanned: %d bytes  Kind: %s\n",
			entry.RowCount, entry.BytesScanned, entry.ExecutionKind)
		fmt.Printf("  Created: %s (%s ago)\n",
			entry.CreatedAt.Format(time.RFC3339), formatCacheAge(time.Since(entry.CreatedAt)))
		fmt.Println()
	}

	return nil
}

func runCacheStats(ctx context.Context, store cache.Store) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Total entries:   %d\n", stats.TotalEntries)
	fmt.Printf("Valid entries:   %d\n", stats.ValidEntries)
	fmt.Printf("Expired entries: %d\n", stats.ExpiredEntries)
	fmt.Printf("CTAS results:    %d\n", stats.CTASCount)
	fmt.Printf("Direct results:  %d\n", stats.DirectCount)

	return nil
}

func runCachePurge(ctx context.Context, store cache.Store) error {
	deleted, err := store.PurgeExpired(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Purged %d expired entries.\n", deleted)

	return nil
}

func runCacheInvalidate(ctx context.Context, store cache.Store, category string) error {
	deleted, err := store.PurgeByKey(ctx, category, cacheInvalidateDatabase)
	if err != nil {
		return err
	}

	if deleted == 0 {
		fmt.Printf("No entry for %s in %s.\n", cache.NormalizeCategory(category), cacheInvalidateDatabase)
		return nil
	}

	fmt.Printf("Invalidated %s in %s.\n", cache.NormalizeCategory(category), cacheInvalidateDatabase)

	return nil
}
