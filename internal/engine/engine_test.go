package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SS8816/rulequery/internal/athena"
	"github.com/SS8816/rulequery/internal/cache"
	"github.com/SS8816/rulequery/internal/config"
	apperrors "github.com/SS8816/rulequery/internal/errors"
	"github.com/SS8816/rulequery/internal/logging"
)

const testDDL = "CREATE EXTERNAL TABLE `prod_db.latest_events` (\n" +
	"  id bigint,\n  name varchar\n) PARTITIONED BY (dt string)"

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)

	return args.String(0), args.Error(1)
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, req athena.Request) (*athena.Outcome, error) {
	args := m.Called(ctx, req)

	var outcome *athena.Outcome
	if v := args.Get(0); v != nil {
		outcome = v.(*athena.Outcome)
	}

	return outcome, args.Error(1)
}

func completed(executionID string, rows int) *athena.Outcome {
	result := &athena.Result{
		ExecutionID:     executionID,
		Columns:         []string{"id", "name"},
		BytesScanned:    4096,
		ExecutionTimeMS: 220,
	}

	for i := 0; i < rows; i++ {
		result.Rows = append(result.Rows, map[string]string{"id": "1", "name": "alpha"})
	}

	return &athena.Outcome{Completed: result}
}

func isCTAS(req athena.Request) bool {
	return strings.HasPrefix(req.SQL, "CREATE TABLE ")
}

func isPreview(req athena.Request) bool {
	return strings.HasPrefix(req.SQL, "SELECT * FROM ")
}

type engineFixture struct {
	oracle   *mockOracle
	executor *mockExecutor
	store    cache.Store
	engine   *Engine
	now      time.Time
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	store, err := cache.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), 168*time.Hour)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	logger, err := logging.NewLogger(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	f := &engineFixture{
		oracle:   &mockOracle{},
		executor: &mockExecutor{},
		store:    store,
		now:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	cfg := config.Config{}
	cfg.Engine.MaxRetries = 5
	cfg.Athena.PreviewRowLimit = 1000
	cfg.Athena.OutputLocation = "s3://results/"
	cfg.Retrieval.BaseK = 2
	cfg.Retrieval.RepairK = 3

	f.engine = New(Dependencies{
		Oracle:   f.oracle,
		Executor: f.executor,
		Store:    store,
		Logger:   logger,
		Config:   cfg,
		Now:      func() time.Time { return f.now },
	})

	return f
}

func (f *engineFixture) request(mode Mode) Request {
	return Request{
		NLQuery:      "count events per day",
		SchemaDDL:    testDDL,
		RuleCategory: "WBL039",
		Mode:         mode,
	}
}

func TestRunFullPipelineOnCacheMiss(t *testing.T) {
	f := newFixture(t)

	f.oracle.On("Complete", mock.Anything, mock.Anything).Return(`SELECT "id", "name" FROM latest_events`, nil)
	f.executor.On("Execute", mock.Anything, mock.MatchedBy(isCTAS)).Return(completed("exec-ctas", 0), nil).Once()
	f.executor.On("Execute", mock.Anything, mock.MatchedBy(isPreview)).Return(completed("exec-preview", 3), nil).Once()

	var stages []string

	result, err := f.engine.Run(context.Background(), f.request(ModeNormal), func(p Progress) {
		stages = append(stages, p.Stage)
	})
	require.NoError(t, err)

	assert.Equal(t, "prod_db", result.Database)
	assert.Equal(t, "prod_db.rule_wbl039_prod_db_20260830_120000", result.MaterializedTable)
	assert.Equal(t, "exec-ctas", result.ExecutionID)
	assert.Equal(t, "s3://results/exec-ctas.csv", result.StoragePath)
	assert.Equal(t, 3, result.RowCount)
	assert.False(t, result.CacheHit)
	assert.Contains(t, stages, "generate")
	assert.Contains(t, stages, "validate_syntax")
	assert.Contains(t, stages, "execute")

	// A successful run upserts the cache.
	entry, _, err := f.store.Get(context.Background(), "WBL039", "prod_db")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, result.MaterializedTable, entry.MaterializedTable)
	assert.Equal(t, result.SQL, entry.SQL)
}

func TestRunCacheHitNormalMode(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Put(context.Background(), cache.Entry{
		RuleCategory:      "WBL039",
		Database:          "prod_db",
		NLQuery:           "count events per day",
		SQL:               `SELECT "id" FROM latest_events`,
		ExecutionID:       "exec-old",
		StorageLocation:   "s3://results/exec-old.csv",
		MaterializedTable: "prod_db.rule_wbl039_prod_db_20260830_100000",
		ExecutionKind:     "ctas",
		RowCount:          42,
		CreatedAt:         f.now.Add(-2 * time.Hour),
	}))

	f.executor.On("Execute", mock.Anything, mock.MatchedBy(func(req athena.Request) bool {
		return isPreview(req) && strings.Contains(req.SQL, "rule_wbl039_prod_db_20260830_100000")
	})).Return(completed("exec-preview", 5), nil).Once()

	result, err := f.engine.Run(context.Background(), f.request(ModeNormal), nil)
	require.NoError(t, err)

	assert.True(t, result.CacheHit)
	assert.InDelta(t, 2.0, result.CacheAge.Hours(), 0.01)
	assert.Equal(t, `SELECT "id" FROM latest_events`, result.SQL)
	assert.Equal(t, "prod_db.rule_wbl039_prod_db_20260830_100000", result.MaterializedTable)
	assert.Equal(t, "exec-old", result.ExecutionID)

	// No generation and no new table on the fast path.
	f.oracle.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	f.executor.AssertNumberOfCalls(t, "Execute", 1)
}

func TestRunReexecuteMode(t *testing.T) {
	f := newFixture(t)

	cachedSQL := `SELECT "id" FROM latest_events`

	require.NoError(t, f.store.Put(context.Background(), cache.Entry{
		RuleCategory:      "WBL039",
		Database:          "prod_db",
		SQL:               cachedSQL,
		ExecutionID:       "exec-old",
		MaterializedTable: "prod_db.rule_wbl039_prod_db_20260829_100000",
		ExecutionKind:     "ctas",
		CreatedAt:         f.now.Add(-24 * time.Hour),
	}))

	f.executor.On("Execute", mock.Anything, mock.MatchedBy(func(req athena.Request) bool {
		return isCTAS(req) && strings.Contains(req.SQL, cachedSQL)
	})).Return(completed("exec-new", 0), nil).Once()
	f.executor.On("Execute", mock.Anything, mock.MatchedBy(isPreview)).Return(completed("exec-preview", 2), nil).Once()

	result, err := f.engine.Run(context.Background(), f.request(ModeReexecute), nil)
	require.NoError(t, err)

	assert.False(t, result.CacheHit)
	assert.Equal(t, cachedSQL, result.SQL)
	assert.Equal(t, "prod_db.rule_wbl039_prod_db_20260830_120000", result.MaterializedTable)

	// Generation and validation are skipped entirely.
	f.oracle.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)

	// The cache now points at the fresh table.
	entry, _, err := f.store.Get(context.Background(), "WBL039", "prod_db")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "prod_db.rule_wbl039_prod_db_20260830_120000", entry.MaterializedTable)
	assert.Equal(t, "exec-new", entry.ExecutionID)
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	f := newFixture(t)

	f.oracle.On("Complete", mock.Anything, mock.Anything).Return("SELECT 1", nil)

	f.executor.On("Execute", mock.Anything, mock.Anything).
		Return(nil, apperrors.New(apperrors.ErrTypeExecution, "SYNTAX_ERROR: attempt one")).Once()
	f.executor.On("Execute", mock.Anything, mock.Anything).
		Return(nil, apperrors.New(apperrors.ErrTypeExecution, "SYNTAX_ERROR: attempt two")).Once()
	f.executor.On("Execute", mock.Anything, mock.Anything).
		Return(nil, apperrors.New(apperrors.ErrTypeExecution, "SYNTAX_ERROR: attempt three")).Once()

	cfg := f.engine.cfg
	cfg.Engine.MaxRetries = 2
	f.engine.cfg = cfg

	result, err := f.engine.Run(context.Background(), f.request(ModeNormal), nil)
	require.Error(t, err)

	// The terminal error surfaces the last failure verbatim.
	assert.Contains(t, err.Error(), "SYNTAX_ERROR: attempt three")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeExecution))
	require.NotNil(t, result)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, "SELECT 1", result.SQL)

	// Initial execution plus one per repair attempt.
	f.executor.AssertNumberOfCalls(t, "Execute", 3)

	// No cache entry was written for a failed run.
	entry, _, err := f.store.Get(context.Background(), "WBL039", "prod_db")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRunSchemaResolutionFailure(t *testing.T) {
	f := newFixture(t)

	req := f.request(ModeNormal)
	req.SchemaDDL = "no table definition here"

	result, err := f.engine.Run(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeSchemaResolution))
	assert.Nil(t, result)

	// Fatal before any oracle or executor work.
	f.oracle.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRunPendingExecutionSurfacesID(t *testing.T) {
	f := newFixture(t)

	f.oracle.On("Complete", mock.Anything, mock.Anything).Return("SELECT 1", nil)
	f.executor.On("Execute", mock.Anything, mock.MatchedBy(isCTAS)).
		Return(&athena.Outcome{PendingExecutionID: "exec-pending"}, nil).Once()

	result, err := f.engine.Run(context.Background(), f.request(ModeNormal), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeExecutionTimeout))
	assert.Equal(t, "exec-pending", apperrors.ExecutionIDOf(err))
	require.NotNil(t, result)
	assert.Equal(t, "exec-pending", result.ExecutionID)
	assert.Zero(t, result.RetryCount)

	// Timeouts are not auto-retried.
	f.executor.AssertNumberOfCalls(t, "Execute", 1)
}

func TestRunNonRetryableExecutionError(t *testing.T) {
	f := newFixture(t)

	f.oracle.On("Complete", mock.Anything, mock.Anything).Return("SELECT 1", nil)
	f.executor.On("Execute", mock.Anything, mock.MatchedBy(isCTAS)).
		Return(nil, apperrors.New(apperrors.ErrTypeSanitize, "query contains potentially dangerous pattern")).Once()

	result, err := f.engine.Run(context.Background(), f.request(ModeNormal), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeSanitize))
	require.NotNil(t, result)

	// Only execution failures feed the repair loop.
	f.executor.AssertNumberOfCalls(t, "Execute", 1)
}

func TestRunOracleFailureNoRetrySlot(t *testing.T) {
	f := newFixture(t)

	f.oracle.On("Complete", mock.Anything, mock.Anything).
		Return("", apperrors.New(apperrors.ErrTypeOracle, "quota exceeded"))

	result, err := f.engine.Run(context.Background(), f.request(ModeNormal), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeOracle))
	assert.Nil(t, result)

	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

type degradedStore struct {
	cache.Store
	putEntries []cache.Entry
}

func (d *degradedStore) Get(context.Context, string, string) (*cache.Entry, time.Duration, error) {
	return nil, 0, apperrors.New(apperrors.ErrTypeCache, "cache database locked")
}

func (d *degradedStore) Put(_ context.Context, entry cache.Entry) error {
	d.putEntries = append(d.putEntries, entry)

	return nil
}

func TestRunCacheLookupErrorDegradesToMiss(t *testing.T) {
	f := newFixture(t)

	store := &degradedStore{Store: f.store}
	f.engine.store = store

	f.oracle.On("Complete", mock.Anything, mock.Anything).Return("SELECT 1", nil)
	f.executor.On("Execute", mock.Anything, mock.MatchedBy(isCTAS)).Return(completed("exec-ctas", 0), nil).Once()
	f.executor.On("Execute", mock.Anything, mock.MatchedBy(isPreview)).Return(completed("exec-preview", 1), nil).Once()

	result, err := f.engine.Run(context.Background(), f.request(ModeNormal), nil)
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	require.Len(t, store.putEntries, 1)
	assert.Equal(t, "WBL039", store.putEntries[0].RuleCategory)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, mode)

	mode, err = ParseMode("reexecute")
	require.NoError(t, err)
	assert.Equal(t, ModeReexecute, mode)

	_, err = ParseMode("turbo")
	assert.Error(t, err)
}
