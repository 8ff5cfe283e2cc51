package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), ttl)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testEntry(category, database string) Entry {
	return Entry{
		RuleCategory:      category,
		Database:          database,
		NLQuery:           "find all toll roads",
		SQL:               "SELECT * FROM roads WHERE toll = true",
		ExecutionID:       "exec-1",
		StorageLocation:   "s3://results/exec-1/",
		MaterializedTable: database + ".rule_" + category + "_20250114_143052",
		ExecutionKind:     "ctas",
		RowCount:          42,
		BytesScanned:      1 << 20,
		DurationMs:        1234,
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"wbl039", "WBL039"},
		{"  WBL039  ", "WBL039"},
		{"Wbl039", "WBL039"},
		{"WBL039", "WBL039"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeCategory(tt.input))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{" wbl039 ", "ABC", "mixed Case ", ""}
	for _, s := range inputs {
		assert.Equal(t, NormalizeCategory(s), NormalizeCategory(NormalizeCategory(s)))
	}
}

func TestPutAndGet(t *testing.T) {
	store := newTestStore(t, 168*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testEntry("wbl039", "fastmap_prod")))

	// Case and whitespace variants collide to one key
	entry, age, err := store.Get(ctx, "  WBL039 ", "fastmap_prod")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "WBL039", entry.RuleCategory)
	assert.Equal(t, "SELECT * FROM roads WHERE toll = true", entry.SQL)
	assert.Equal(t, int64(42), entry.RowCount)
	assert.GreaterOrEqual(t, age, time.Duration(0))
}

func TestGetMiss(t *testing.T) {
	store := newTestStore(t, 168*time.Hour)

	entry, _, err := store.Get(context.Background(), "nope", "fastmap_prod")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestUpsertInvariant(t *testing.T) {
	store := newTestStore(t, 168*time.Hour)
	ctx := context.Background()

	// Any sequence of puts for the same key leaves exactly one row equal to
	// the last put.
	for i, sql := range []string{"SELECT 1", "SELECT 2", "SELECT 3"} {
		entry := testEntry("wbl039", "fastmap_prod")
		entry.SQL = sql
		entry.RowCount = int64(i)
		require.NoError(t, store.Put(ctx, entry))
	}

	entries, err := store.ListAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "SELECT 3", entries[0].SQL)
	assert.Equal(t, int64(2), entries[0].RowCount)
}

func TestTTLBoundary(t *testing.T) {
	ttl := time.Hour
	store := newTestStore(t, ttl)
	ctx := context.Background()

	// Visible just inside the TTL
	fresh := testEntry("fresh", "db1")
	fresh.CreatedAt = time.Now().UTC().Add(-ttl + time.Second)
	require.NoError(t, store.Put(ctx, fresh))

	entry, age, err := store.Get(ctx, "fresh", "db1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Greater(t, age, ttl-2*time.Second)

	// Absent just outside the TTL, though not physically deleted
	stale := testEntry("stale", "db1")
	stale.CreatedAt = time.Now().UTC().Add(-ttl - time.Second)
	require.NoError(t, store.Put(ctx, stale))

	entry, _, err = store.Get(ctx, "stale", "db1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	entries, err := store.ListAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "expired entries remain until purged")
}

func TestListAllWithFilter(t *testing.T) {
	store := newTestStore(t, 168*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testEntry("a", "db1")))
	require.NoError(t, store.Put(ctx, testEntry("b", "db1")))
	require.NoError(t, store.Put(ctx, testEntry("c", "db2")))

	entries, err := store.ListAll(ctx, "db1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = store.ListAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPurgeExpired(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	stale := testEntry("old", "db1")
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Put(ctx, stale))
	require.NoError(t, store.Put(ctx, testEntry("new", "db1")))

	deleted, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := store.ListAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "NEW", entries[0].RuleCategory)
}

func TestPurgeByKey(t *testing.T) {
	store := newTestStore(t, 168*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testEntry("wbl039", "db1")))

	deleted, err := store.PurgeByKey(ctx, "wbl039", "db1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = store.PurgeByKey(ctx, "wbl039", "db1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestListMaterializedOlderThan(t *testing.T) {
	store := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	old := testEntry("old", "db1")
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -10)
	require.NoError(t, store.Put(ctx, old))

	recent := testEntry("recent", "db1")
	require.NoError(t, store.Put(ctx, recent))

	direct := testEntry("direct", "db1")
	direct.ExecutionKind = "direct"
	direct.CreatedAt = time.Now().UTC().AddDate(0, 0, -10)
	require.NoError(t, store.Put(ctx, direct))

	refs, err := store.ListMaterializedOlderThan(ctx, 7)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "OLD", refs[0].RuleCategory)
	assert.Equal(t, old.MaterializedTable, refs[0].Table)
	assert.Equal(t, old.StorageLocation, refs[0].StorageLocation)
}

func TestListMaterializedSubSecondOrdering(t *testing.T) {
	store := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	base := time.Now().UTC().AddDate(0, 0, -10).Truncate(time.Second)

	whole := testEntry("whole", "db1")
	whole.CreatedAt = base
	require.NoError(t, store.Put(ctx, whole))

	tenth := testEntry("tenth", "db1")
	tenth.CreatedAt = base.Add(100 * time.Millisecond)
	require.NoError(t, store.Put(ctx, tenth))

	midway := testEntry("midway", "db1")
	midway.CreatedAt = base.Add(150 * time.Millisecond)
	require.NoError(t, store.Put(ctx, midway))

	refs, err := store.ListMaterializedOlderThan(ctx, 7)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "WHOLE", refs[0].RuleCategory)
	assert.Equal(t, "TENTH", refs[1].RuleCategory)
	assert.Equal(t, "MIDWAY", refs[2].RuleCategory)
}

func TestStats(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testEntry("a", "db1")))

	stale := testEntry("b", "db1")
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	stale.ExecutionKind = "direct"
	require.NoError(t, store.Put(ctx, stale))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.ValidEntries)
	assert.Equal(t, int64(1), stats.ExpiredEntries)
	assert.Equal(t, int64(1), stats.CTASCount)
	assert.Equal(t, int64(1), stats.DirectCount)
}
