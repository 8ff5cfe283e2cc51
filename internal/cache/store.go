// Package cache implements the durable result cache: an upsert-only record
// of the last successful run per (rule category, database) pair, with
// TTL-gated reads.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	apperrors "github.com/SS8816/rulequery/internal/errors"
)

// Entry is one cached run. At most one entry exists per normalized
// (RuleCategory, Database) pair; Put replaces, never appends.
type Entry struct {
	RuleCategory      string    `json:"rule_category"`
	Database          string    `json:"database"`
	NLQuery           string    `json:"nl_query"`
	SQL               string    `json:"sql"`
	ExecutionID       string    `json:"execution_id"`
	StorageLocation   string    `json:"storage_location"`
	MaterializedTable string    `json:"materialized_table"`
	ExecutionKind     string    `json:"execution_kind"` // "ctas" or "direct"
	RowCount          int64     `json:"row_count"`
	BytesScanned      int64     `json:"bytes_scanned"`
	DurationMs        int64     `json:"duration_ms"`
	CreatedAt         time.Time `json:"created_at"`
}

// MaterializedRef identifies a materialized table for out-of-band storage
// reclamation.
type MaterializedRef struct {
	Table           string    `json:"table"`
	Database        string    `json:"database"`
	RuleCategory    string    `json:"rule_category"`
	StorageLocation string    `json:"storage_location"`
	CreatedAt       time.Time `json:"created_at"`
}

// Stats summarizes the cache contents.
type Stats struct {
	TotalEntries   int64 `json:"total_entries"`
	ValidEntries   int64 `json:"valid_entries"`
	ExpiredEntries int64 `json:"expired_entries"`
	CTASCount      int64 `json:"ctas_count"`
	DirectCount    int64 `json:"direct_count"`
}

// Store defines the cache operations used by the engine and the CLI.
type Store interface {
	Get(ctx context.Context, ruleCategory, database string) (*Entry, time.Duration, error)
	Put(ctx context.Context, entry Entry) error
	ListAll(ctx context.Context, databaseFilter string) ([]Entry, error)
	PurgeExpired(ctx context.Context) (int64, error)
	PurgeByKey(ctx context.Context, ruleCategory, database string) (int64, error)
	ListMaterializedOlderThan(ctx context.Context, days int) ([]MaterializedRef, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store on a local sqlite file.
type SQLiteStore struct {
	db   *sql.DB
	ttl  time.Duration
	path string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS query_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_category TEXT NOT NULL,
	database_name TEXT NOT NULL,
	nl_query_text TEXT NOT NULL,
	final_sql TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	storage_location TEXT NOT NULL,
	materialized_table TEXT,
	execution_kind TEXT DEFAULT 'ctas',
	row_count INTEGER,
	bytes_scanned INTEGER,
	duration_ms INTEGER,
	created_at TEXT NOT NULL,
	UNIQUE(rule_category, database_name)
);
CREATE INDEX IF NOT EXISTS idx_cache_lookup
	ON query_cache(rule_category, database_name);
`

// timeLayout is RFC 3339 with a fixed-width fractional second so stored
// timestamps compare chronologically as strings in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NewSQLiteStore opens (creating if needed) the cache database at path.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to create cache directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to open cache database")
	}

	// The file store serializes concurrent writers itself; a single
	// connection avoids SQLITE_BUSY churn under concurrent upserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to initialize cache schema")
	}

	return &SQLiteStore{db: db, ttl: ttl, path: path}, nil
}

// NormalizeCategory normalizes a rule category for use as a cache key.
// Normalization is idempotent: trim then uppercase.
func NormalizeCategory(ruleCategory string) string {
	return strings.ToUpper(strings.TrimSpace(ruleCategory))
}

// Get returns the cached entry for the normalized key along with its age.
// A missing row or one older than the TTL returns (nil, 0, nil); expired
// rows are treated as absent but not deleted until an explicit purge.
func (s *SQLiteStore) Get(ctx context.Context, ruleCategory, database string) (*Entry, time.Duration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rule_category, database_name, nl_query_text, final_sql, execution_id,
		       storage_location, materialized_table, execution_kind,
		       row_count, bytes_scanned, duration_ms, created_at
		FROM query_cache
		WHERE rule_category = ? AND database_name = ?`,
		NormalizeCategory(ruleCategory), database)

	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, nil
		}

		return nil, 0, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to read cache entry")
	}

	age := time.Since(entry.CreatedAt)
	if age > s.ttl {
		return nil, 0, nil
	}

	return entry, age, nil
}

// Put atomically upserts an entry on the normalized key, replacing any prior
// row for the same (rule category, database) pair.
func (s *SQLiteStore) Put(ctx context.Context, entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_cache (
			rule_category, database_name, nl_query_text, final_sql, execution_id,
			storage_location, materialized_table, execution_kind,
			row_count, bytes_scanned, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_category, database_name) DO UPDATE SET
			nl_query_text = excluded.nl_query_text,
			final_sql = excluded.final_sql,
			execution_id = excluded.execution_id,
			storage_location = excluded.storage_location,
			materialized_table = excluded.materialized_table,
			execution_kind = excluded.execution_kind,
			row_count = excluded.row_count,
			bytes_scanned = excluded.bytes_scanned,
			duration_ms = excluded.duration_ms,
			created_at = excluded.created_at`,
		NormalizeCategory(entry.RuleCategory), entry.Database, entry.NLQuery,
		entry.SQL, entry.ExecutionID, entry.StorageLocation,
		entry.MaterializedTable, entry.ExecutionKind,
		entry.RowCount, entry.BytesScanned, entry.DurationMs,
		createdAt.Format(timeLayout))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to upsert cache entry")
	}

	return nil
}

// ListAll returns entries, optionally filtered by database, newest first.
// Expired entries are included; listing is an administrative view.
func (s *SQLiteStore) ListAll(ctx context.Context, databaseFilter string) ([]Entry, error) {
	query := `
		SELECT rule_category, database_name, nl_query_text, final_sql, execution_id,
		       storage_location, materialized_table, execution_kind,
		       row_count, bytes_scanned, duration_ms, created_at
		FROM query_cache`

	var args []interface{}

	if databaseFilter != "" {
		query += " WHERE database_name = ?"

		args = append(args, databaseFilter)
	}

	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to list cache entries")
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to scan cache entry")
		}

		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to iterate cache entries")
	}

	return entries, nil
}

// PurgeExpired physically deletes entries older than the TTL and returns the
// number removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM query_cache WHERE created_at < ?",
		cutoff.Format(timeLayout))
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to purge expired entries")
	}

	deleted, _ := result.RowsAffected()

	return deleted, nil
}

// PurgeByKey deletes the entry for the normalized key, if any.
func (s *SQLiteStore) PurgeByKey(ctx context.Context, ruleCategory, database string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM query_cache WHERE rule_category = ? AND database_name = ?",
		NormalizeCategory(ruleCategory), database)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to purge cache entry")
	}

	deleted, _ := result.RowsAffected()

	return deleted, nil
}

// ListMaterializedOlderThan returns references to materialized tables older
// than the given number of days, oldest first. The store never drops the
// underlying tables itself; callers reclaim them out of band.
func (s *SQLiteStore) ListMaterializedOlderThan(ctx context.Context, days int) ([]MaterializedRef, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
		SELECT materialized_table, database_name, rule_category, storage_location, created_at
		FROM query_cache
		WHERE materialized_table IS NOT NULL
		  AND materialized_table != ''
		  AND execution_kind = 'ctas'
		  AND created_at < ?
		ORDER BY created_at ASC`,
		cutoff.Format(timeLayout))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to list materialized tables")
	}
	defer rows.Close()

	var refs []MaterializedRef

	for rows.Next() {
		var ref MaterializedRef

		var createdAt string

		if err := rows.Scan(&ref.Table, &ref.Database, &ref.RuleCategory, &ref.StorageLocation, &createdAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to scan materialized ref")
		}

		ref.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to iterate materialized refs")
	}

	return refs, nil
}

// Stats returns cache statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_cache").Scan(&stats.TotalEntries); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to count cache entries")
	}

	cutoff := time.Now().UTC().Add(-s.ttl)

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM query_cache WHERE created_at >= ?",
		cutoff.Format(timeLayout)).Scan(&stats.ValidEntries); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to count valid entries")
	}

	stats.ExpiredEntries = stats.TotalEntries - stats.ValidEntries

	rows, err := s.db.QueryContext(ctx,
		"SELECT execution_kind, COUNT(*) FROM query_cache GROUP BY execution_kind")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to count execution kinds")
	}
	defer rows.Close()

	for rows.Next() {
		var kind string

		var count int64

		if err := rows.Scan(&kind, &count); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeCache, "failed to scan kind count")
		}

		switch kind {
		case "ctas":
			stats.CTASCount = count
		case "direct":
			stats.DirectCount = count
		}
	}

	return stats, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanEntry.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var entry Entry

	var createdAt string

	err := row.Scan(
		&entry.RuleCategory, &entry.Database, &entry.NLQuery, &entry.SQL,
		&entry.ExecutionID, &entry.StorageLocation, &entry.MaterializedTable,
		&entry.ExecutionKind, &entry.RowCount, &entry.BytesScanned,
		&entry.DurationMs, &createdAt)
	if err != nil {
		return nil, err
	}

	entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}

	return &entry, nil
}
