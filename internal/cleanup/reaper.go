// Package cleanup reclaims materialized tables and their result objects
// once cache entries age out.
package cleanup

import (
	"context"
	"fmt"

	"github.com/SS8816/rulequery/internal/athena"
	"github.com/SS8816/rulequery/internal/cache"
	"github.com/SS8816/rulequery/internal/engine"
	"github.com/SS8816/rulequery/internal/logging"
)

// Options controls a reap pass.
type Options struct {
	// OlderThanDays selects entries whose materialized table is at least
	// this many days old.
	OlderThanDays int

	// DryRun reports what would be reclaimed without touching anything.
	DryRun bool
}

// Report summarizes a reap pass.
type Report struct {
	Candidates     int
	TablesDropped  int
	ObjectsRemoved int
	EntriesPurged  int
	Errors         []string
}

// Reaper drops stale materialized tables, deletes their result objects,
// and purges the corresponding cache entries.
type Reaper struct {
	store    cache.Store
	executor athena.Executor
	objects  ObjectStore
	logger   *logging.Logger
}

// NewReaper builds a reaper. objects may be nil, in which case result
// objects are left in place.
func NewReaper(store cache.Store, executor athena.Executor, objects ObjectStore, logger *logging.Logger) *Reaper {
	return &Reaper{
		store:    store,
		executor: executor,
		objects:  objects,
		logger:   logger,
	}
}

// Reap runs one cleanup pass. Failures on individual entries are recorded
// in the report and do not stop the pass; the cache entry is only purged
// once its table and objects are gone, so a failed entry is retried on the
// next pass.
func (r *Reaper) Reap(ctx context.Context, opts Options) (*Report, error) {
	refs, err := r.store.ListMaterializedOlderThan(ctx, opts.OlderThanDays)
	if err != nil {
		return nil, err
	}

	report := &Report{Candidates: len(refs)}

	for _, ref := range refs {
		log := r.logger.WithFields(map[string]interface{}{
			"table":         ref.Table,
			"rule_category": ref.RuleCategory,
			"created_at":    ref.CreatedAt,
		})

		if opts.DryRun {
			log.Info("Would reclaim materialized table")
			continue
		}

		if err := r.reclaim(ctx, ref, report); err != nil {
			log.ErrorWithErr("Failed to reclaim materialized table", err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", ref.Table, err))

			continue
		}

		log.Info("Reclaimed materialized table")
	}

	return report, nil
}

func (r *Reaper) reclaim(ctx context.Context, ref cache.MaterializedRef, report *Report) error {
	// Only tables matching the managed naming scheme are dropped.
	if _, err := engine.ParseTableName(ref.Table); err != nil {
		return err
	}

	_, err := r.executor.Execute(ctx, athena.Request{
		SQL:      fmt.Sprintf("DROP TABLE IF EXISTS %s", ref.Table),
		Database: ref.Database,
		MaxRows:  1,
	})
	if err != nil {
		return err
	}

	report.TablesDropped++

	if r.objects != nil && ref.StorageLocation != "" {
		removed, err := r.objects.RemoveLocation(ctx, ref.StorageLocation)
		report.ObjectsRemoved += removed

		if err != nil {
			return err
		}
	}

	purged, err := r.store.PurgeByKey(ctx, ref.RuleCategory, ref.Database)
	if err != nil {
		return err
	}

	report.EntriesPurged += int(purged)

	return nil
}
