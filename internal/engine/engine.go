// Package engine implements the bounded-retry orchestration pipeline that
// turns a natural-language request into a verified, materialized SQL result.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SS8816/rulequery/internal/athena"
	"github.com/SS8816/rulequery/internal/cache"
	"github.com/SS8816/rulequery/internal/config"
	apperrors "github.com/SS8816/rulequery/internal/errors"
	"github.com/SS8816/rulequery/internal/logging"
	"github.com/SS8816/rulequery/internal/metrics"
	"github.com/SS8816/rulequery/internal/oracle"
	"github.com/SS8816/rulequery/internal/retrieval"
	"github.com/SS8816/rulequery/internal/schema"
)

// Mode selects how the cache participates in a run.
type Mode string

const (
	// ModeNormal serves a cache hit by previewing the existing table.
	ModeNormal Mode = "normal"
	// ModeReexecute reuses cached SQL but materializes a fresh table.
	ModeReexecute Mode = "reexecute"
	// ModeForce bypasses the cache lookup and runs the full pipeline.
	ModeForce Mode = "force"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, ModeReexecute, ModeForce:
		return Mode(s), nil
	case "":
		return ModeNormal, nil
	default:
		return "", apperrors.Newf(apperrors.ErrTypeConfig, "unknown execution mode: %s", s)
	}
}

// Request is one orchestration run.
type Request struct {
	NLQuery      string
	SchemaDDL    string
	Constraints  string
	RuleCategory string
	Mode         Mode
}

// Progress is a streamed stage notification.
type Progress struct {
	Stage   string
	Attempt int
	Message string
}

// Result is the terminal outcome of a successful run.
type Result struct {
	SQL               string
	Database          string
	MaterializedTable string
	ExecutionID       string
	StoragePath       string
	Columns           []string
	Rows              []map[string]string
	RowCount          int
	BytesScanned      int64
	DurationMS        int64
	RetryCount        int
	CacheHit          bool
	CacheAge          time.Duration
}

// Dependencies are the injected collaborators of the engine. Index may be
// nil: retrieval then degrades to no-context prompts.
type Dependencies struct {
	Oracle   oracle.Oracle
	Executor athena.Executor
	Index    retrieval.Index
	Store    cache.Store
	Logger   *logging.Logger
	Config   config.Config
	Now      func() time.Time
}

// Engine drives the generate, validate, execute, repair pipeline.
type Engine struct {
	oracle     oracle.Oracle
	executor   athena.Executor
	index      retrieval.Index
	store      cache.Store
	logger     *logging.Logger
	cfg        config.Config
	now        func() time.Time
	errorNotes string
}

// New builds an engine. Production-error notes are loaded best effort from
// the configured path; a missing file is not an error.
func New(deps Dependencies) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		oracle:   deps.Oracle,
		executor: deps.Executor,
		index:    deps.Index,
		store:    deps.Store,
		logger:   deps.Logger,
		cfg:      deps.Config,
		now:      now,
	}

	if path := deps.Config.Engine.ErrorNotesPath; path != "" {
		if data, err := os.ReadFile(path); err == nil {
			e.errorNotes = string(data)
		}
	}

	return e
}

// Run executes one request. Progress notifications are delivered through
// notify (which may be nil) before the terminal result. A terminal failure
// carries a typed error; the last attempted SQL rides on the returned
// result when one exists.
func (e *Engine) Run(ctx context.Context, req Request, notify func(Progress)) (*Result, error) {
	start := e.now()

	result, err := e.run(ctx, req, func(p Progress) {
		if notify != nil {
			notify(p)
		}
	})

	status := "done"
	if err != nil {
		status = "failed"
	}

	metrics.ObserveRun(status, e.now().Sub(start))

	return result, err
}

func (e *Engine) run(ctx context.Context, req Request, notify func(Progress)) (*Result, error) {
	database, err := resolveDatabase(req.SchemaDDL)
	if err != nil {
		return nil, err
	}

	category := cache.NormalizeCategory(req.RuleCategory)

	log := e.logger.WithFields(map[string]interface{}{
		"rule_category": category,
		"database":      database,
		"mode":          string(req.Mode),
	})

	// Cache lookup unless forced. Lookup errors degrade to a miss.
	var (
		cached   *cache.Entry
		cacheAge time.Duration
	)

	if req.Mode != ModeForce {
		notify(Progress{Stage: "cache", Message: "Checking cache"})

		cached, cacheAge, err = e.store.Get(ctx, category, database)
		if err != nil {
			log.WithError(err).Warn("Cache lookup failed, treating as miss")

			cached = nil
		}

		metrics.ObserveCacheLookup(cached != nil)
	}

	switch {
	case req.Mode == ModeNormal && cached != nil:
		notify(Progress{Stage: "cache", Message: fmt.Sprintf("Cache hit, previewing table from %.1fh ago", cacheAge.Hours())})

		result, err := e.previewCached(ctx, database, cached, cacheAge)
		if err == nil {
			return result, nil
		}

		log.WithError(err).Warn("Cached table preview failed, running fresh pipeline")

		fallthrough
	default:
		return e.runPipeline(ctx, req, database, category, cached, notify, log)
	}
}

// previewCached serves a normal-mode cache hit by re-querying the existing
// materialized table. No new table is created and the cache is untouched.
func (e *Engine) previewCached(ctx context.Context, database string, cached *cache.Entry, age time.Duration) (*Result, error) {
	outcome, err := e.executor.Execute(ctx, athena.Request{
		SQL:      previewSQL(cached.MaterializedTable, e.cfg.Athena.PreviewRowLimit),
		Database: database,
		MaxRows:  e.cfg.Athena.PreviewRowLimit,
	})
	if err != nil {
		return nil, err
	}

	if outcome.Completed == nil {
		return nil, apperrors.New(apperrors.ErrTypeExecutionTimeout, "cached table preview still running").
			WithExecutionID(outcome.PendingExecutionID)
	}

	preview := outcome.Completed

	return &Result{
		SQL:               cached.SQL,
		Database:          database,
		MaterializedTable: cached.MaterializedTable,
		ExecutionID:       cached.ExecutionID,
		StoragePath:       cached.StorageLocation,
		Columns:           preview.Columns,
		Rows:              preview.Rows,
		RowCount:          int(cached.RowCount),
		BytesScanned:      cached.BytesScanned,
		DurationMS:        cached.DurationMs,
		CacheHit:          true,
		CacheAge:          age,
	}, nil
}

// runPipeline drives the state machine. With a reexecute-mode cache hit the
// generation and validation states are skipped and the cached SQL goes
// straight to execution.
func (e *Engine) runPipeline(ctx context.Context, req Request, database, category string, cached *cache.Entry, notify func(Progress), log *logging.Logger) (*Result, error) {
	var (
		candidate string
		lastErr   error
		lastExec  *materialization
		retry     int
	)

	maxRetries := e.cfg.Engine.MaxRetries
	reexecute := req.Mode == ModeReexecute && cached != nil
	catalog := schema.Parse(req.SchemaDDL)

	state := StateGenerate
	if reexecute {
		candidate = cached.SQL
		state = StateExecute

		notify(Progress{Stage: "cache", Message: "Re-executing cached SQL on current data"})
	}

	for {
		switch state {
		case StateGenerate:
			notify(Progress{Stage: state.String(), Message: "Generating SQL"})
			metrics.ObserveOracleCall("generate")

			raw, err := e.oracle.Complete(ctx, buildGenerationPrompt(req.SchemaDDL, req.NLQuery, req.Constraints))
			if err != nil {
				return nil, err
			}

			candidate = formatSQL(raw)
			state = Transition(state, EventGenerated, retry, maxRetries)

		case StateValidateFunctions:
			notify(Progress{Stage: state.String(), Message: "Validating function usage"})

			candidate = e.validateFunctions(ctx, candidate, req.SchemaDDL, log)
			state = Transition(state, EventFunctionsValidated, retry, maxRetries)

		case StateValidateSyntax:
			notify(Progress{Stage: state.String(), Message: "Validating syntax"})
			metrics.ObserveOracleCall("validate_syntax")

			raw, err := e.oracle.Complete(ctx, buildSyntaxValidationPrompt(candidate, e.errorNotes, req.SchemaDDL))
			if err != nil {
				log.WithError(err).Warn("Syntax validation call failed, keeping candidate")
			} else {
				candidate = formatSQL(raw)
			}

			state = Transition(state, EventSyntaxValidated, retry, maxRetries)

		case StateExecute:
			notify(Progress{Stage: state.String(), Attempt: retry, Message: "Materializing result table"})

			exec, err := e.materialize(ctx, database, category, candidate)
			if err != nil {
				if apperrors.IsType(err, apperrors.ErrTypeExecutionTimeout) {
					// Still running server-side; surfacing the execution
					// id beats burning retries on a query that may yet
					// succeed.
					metrics.ObserveExecution("pending")

					return &Result{
						SQL:         candidate,
						Database:    database,
						ExecutionID: apperrors.ExecutionIDOf(err),
						RetryCount:  retry,
					}, err
				}

				metrics.ObserveExecution("failed")
				log.WithError(err).Warn("Execution failed")

				lastErr = err

				if reexecute {
					// Cached SQL already survived a full pipeline once; a
					// failure now means the data moved, not the SQL.
					return &Result{SQL: candidate, Database: database}, err
				}

				if !apperrors.IsRetryable(err) {
					return &Result{SQL: candidate, Database: database, RetryCount: retry}, err
				}

				state = Transition(state, EventExecFailed, retry, maxRetries)

				continue
			}

			metrics.ObserveExecution("completed")

			lastExec = exec
			state = Transition(state, EventExecuted, retry, maxRetries)

		case StateFix:
			retry++
			metrics.ObserveRepairAttempt()
			notify(Progress{Stage: state.String(), Attempt: retry,
				Message: fmt.Sprintf("Attempting repair (%d/%d)", retry, maxRetries)})
			metrics.ObserveOracleCall("fix")

			snippets := e.retrieveSnippets(ctx, req.NLQuery+" "+truncate(lastErr.Error(), 500), e.cfg.Retrieval.RepairK, log)

			raw, err := e.oracle.Complete(ctx, buildRepairPrompt(
				req.NLQuery, req.SchemaDDL, catalog.Summarize(), candidate, lastErr.Error(), snippets))
			if err != nil {
				return &Result{SQL: candidate, Database: database, RetryCount: retry}, err
			}

			candidate = formatSQL(raw)
			state = Transition(state, EventRepaired, retry, maxRetries)

		case StateDone:
			result := &Result{
				SQL:               candidate,
				Database:          database,
				MaterializedTable: lastExec.table,
				ExecutionID:       lastExec.executionID,
				StoragePath:       lastExec.storagePath,
				Columns:           lastExec.preview.Columns,
				Rows:              lastExec.preview.Rows,
				RowCount:          len(lastExec.preview.Rows),
				BytesScanned:      lastExec.bytesScanned,
				DurationMS:        lastExec.durationMS,
				RetryCount:        retry,
			}

			e.upsertCache(ctx, req, category, database, result, log)

			return result, nil

		case StateFailed:
			return &Result{SQL: candidate, Database: database, RetryCount: retry},
				apperrors.Wrapf(lastErr, apperrors.ErrTypeExecution,
					"query failed after %d repair attempts", retry)
		}
	}
}

// validateFunctions runs the function validation pass. Per-function
// reference snippets are fetched best effort; a clean review with no docs
// skips the oracle call entirely.
func (e *Engine) validateFunctions(ctx context.Context, candidate, schemaDDL string, log *logging.Logger) string {
	functions := extractFunctions(candidate)
	if len(functions) == 0 {
		return candidate
	}

	review := classifyFunctions(functions)

	docs := make(map[string][]retrieval.Snippet)

	if e.index != nil {
		for _, name := range functions {
			snippets, err := e.index.Retrieve(ctx,
				name+" Athena SQL function syntax parameters usage example", e.cfg.Retrieval.BaseK)
			if err != nil {
				log.WithError(err).WithField("function", name).Debug("Function doc retrieval failed")

				continue
			}

			if len(snippets) > 0 {
				docs[name] = snippets
			}
		}
	}

	if review.clean() && len(docs) == 0 {
		return candidate
	}

	metrics.ObserveOracleCall("validate_functions")

	raw, err := e.oracle.Complete(ctx, buildFunctionValidationPrompt(candidate, review, docs, schemaDDL))
	if err != nil {
		log.WithError(err).Warn("Function validation call failed, keeping candidate")

		return candidate
	}

	return formatSQL(raw)
}

func (e *Engine) retrieveSnippets(ctx context.Context, query string, k int, log *logging.Logger) []retrieval.Snippet {
	if e.index == nil {
		return nil
	}

	snippets, err := e.index.Retrieve(ctx, query, k)
	if err != nil {
		log.WithError(err).Debug("Snippet retrieval failed")

		return nil
	}

	return snippets
}

// materialization is the outcome of one successful execute pass.
type materialization struct {
	table        string
	executionID  string
	storagePath  string
	preview      *athena.Result
	bytesScanned int64
	durationMS   int64
}

// materialize creates the result table from the candidate SQL and then
// previews it with a bounded row cap.
func (e *Engine) materialize(ctx context.Context, database, category, candidate string) (*materialization, error) {
	table := deriveTableName(category, database, e.now())
	ctasSQL := fmt.Sprintf("CREATE TABLE %s AS\n%s", table, candidate)

	outcome, err := e.executor.Execute(ctx, athena.Request{
		SQL:      ctasSQL,
		Database: database,
		MaxRows:  1,
	})
	if err != nil {
		return nil, err
	}

	if outcome.Completed == nil {
		return nil, apperrors.New(apperrors.ErrTypeExecutionTimeout, "table materialization still running").
			WithExecutionID(outcome.PendingExecutionID)
	}

	ctas := outcome.Completed

	previewOutcome, err := e.executor.Execute(ctx, athena.Request{
		SQL:      previewSQL(table, e.cfg.Athena.PreviewRowLimit),
		Database: database,
		MaxRows:  e.cfg.Athena.PreviewRowLimit,
	})
	if err != nil {
		return nil, err
	}

	if previewOutcome.Completed == nil {
		return nil, apperrors.New(apperrors.ErrTypeExecutionTimeout, "preview query still running").
			WithExecutionID(previewOutcome.PendingExecutionID)
	}

	return &materialization{
		table:        table,
		executionID:  ctas.ExecutionID,
		storagePath:  storagePath(e.cfg.Athena.OutputLocation, ctas.ExecutionID),
		preview:      previewOutcome.Completed,
		bytesScanned: ctas.BytesScanned,
		durationMS:   ctas.ExecutionTimeMS,
	}, nil
}

// upsertCache records a successful run. Every successful execution upserts,
// regardless of mode; a write failure is logged, never fatal.
func (e *Engine) upsertCache(ctx context.Context, req Request, category, database string, result *Result, log *logging.Logger) {
	err := e.store.Put(ctx, cache.Entry{
		RuleCategory:      category,
		Database:          database,
		NLQuery:           req.NLQuery,
		SQL:               result.SQL,
		ExecutionID:       result.ExecutionID,
		StorageLocation:   result.StoragePath,
		MaterializedTable: result.MaterializedTable,
		ExecutionKind:     "ctas",
		RowCount:          int64(result.RowCount),
		BytesScanned:      result.BytesScanned,
		DurationMs:        result.DurationMS,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to upsert cache entry")
	}
}

func previewSQL(table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, limit)
}

func storagePath(outputLocation, executionID string) string {
	return strings.TrimSuffix(outputLocation, "/") + "/" + executionID + ".csv"
}
