// Package athena executes SQL against AWS Athena with input sanitization,
// bounded polling, and paginated result retrieval.
package athena

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/google/uuid"

	"github.com/SS8816/rulequery/internal/config"
	apperrors "github.com/SS8816/rulequery/internal/errors"
	"github.com/SS8816/rulequery/internal/logging"
)

// Request describes one query execution.
type Request struct {
	SQL      string
	Database string
	MaxRows  int
}

// Result holds the rows of a completed query.
type Result struct {
	ExecutionID     string              `json:"execution_id"`
	Columns         []string            `json:"columns"`
	Rows            []map[string]string `json:"rows"`
	BytesScanned    int64               `json:"bytes_scanned"`
	ExecutionTimeMS int64               `json:"execution_time_ms"`
}

// Outcome is the terminal state of an execution attempt. Exactly one of
// Completed and PendingExecutionID is set: a pending outcome means the
// query is still running server-side after the polling budget ran out.
type Outcome struct {
	Completed          *Result
	PendingExecutionID string
}

// Executor runs SQL and reports a completed or pending outcome.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Outcome, error)
}

// api is the subset of the Athena SDK surface the client depends on.
type api interface {
	StartQueryExecution(ctx context.Context, params *awsathena.StartQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *awsathena.GetQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *awsathena.GetQueryResultsInput, optFns ...func(*awsathena.Options)) (*awsathena.GetQueryResultsOutput, error)
}

// Client implements Executor against AWS Athena.
type Client struct {
	api    api
	config config.AthenaConfig
	logger *logging.Logger
}

// NewClient builds a client from shared AWS configuration.
func NewClient(ctx context.Context, cfg config.AthenaConfig, logger *logging.Logger) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeConfig, "failed to load AWS configuration")
	}

	return &Client{
		api:    awsathena.NewFromConfig(awsCfg),
		config: cfg,
		logger: logger,
	}, nil
}

// NewClientWithAPI builds a client over an existing API implementation.
func NewClientWithAPI(a api, cfg config.AthenaConfig, logger *logging.Logger) *Client {
	return &Client{api: a, config: cfg, logger: logger}
}

// Execute sanitizes the request, starts the query, and polls until it
// finishes or the wall-clock budget runs out. Context cancellation and
// budget exhaustion both yield a pending outcome carrying the execution id
// so the caller can check on it later.
func (c *Client) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if err := ValidateQuery(req.SQL, c.config.MaxQueryLengthKB*1024); err != nil {
		return nil, err
	}

	database, err := SanitizeIdentifier(req.Database)
	if err != nil {
		return nil, err
	}

	startInput := &awsathena.StartQueryExecutionInput{
		QueryString:        aws.String(req.SQL),
		ClientRequestToken: aws.String(uuid.NewString()),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(database),
		},
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: aws.String(c.config.OutputLocation),
		},
	}
	if c.config.Workgroup != "" {
		startInput.WorkGroup = aws.String(c.config.Workgroup)
	}

	startOut, err := c.api.StartQueryExecution(ctx, startInput)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeExecution, "failed to start query execution")
	}

	executionID := aws.ToString(startOut.QueryExecutionId)
	c.logger.WithFields(map[string]interface{}{
		"execution_id": executionID,
		"database":     database,
	}).Info("Started query execution")

	status, err := c.waitForCompletion(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if status == nil {
		c.logger.WithField("execution_id", executionID).Warn("Query exceeded polling budget")

		return &Outcome{PendingExecutionID: executionID}, nil
	}

	result, err := c.fetchResults(ctx, executionID, status, req.MaxRows)
	if err != nil {
		return nil, err
	}

	return &Outcome{Completed: result}, nil
}

// executionStatus is the polled state snapshot of a running query.
type executionStatus struct {
	bytesScanned    int64
	executionTimeMS int64
}

// waitForCompletion polls every PollInterval until success, failure, or
// budget/context expiry. A nil status with nil error means the budget or
// the context ran out while the query was still in flight.
func (c *Client) waitForCompletion(ctx context.Context, executionID string) (*executionStatus, error) {
	deadline := time.Now().Add(c.config.TimeoutDuration())
	ticker := time.NewTicker(c.config.PollIntervalDuration())

	defer ticker.Stop()

	for time.Now().Before(deadline) {
		out, err := c.api.GetQueryExecution(ctx, &awsathena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(executionID),
		})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeExecution, "failed to get query status").
				WithExecutionID(executionID)
		}

		exec := out.QueryExecution
		if exec == nil || exec.Status == nil {
			return nil, apperrors.New(apperrors.ErrTypeExecution, "query status missing from response").
				WithExecutionID(executionID)
		}

		switch exec.Status.State {
		case types.QueryExecutionStateSucceeded:
			status := &executionStatus{}
			if stats := exec.Statistics; stats != nil {
				status.bytesScanned = aws.ToInt64(stats.DataScannedInBytes)
				status.executionTimeMS = aws.ToInt64(stats.EngineExecutionTimeInMillis)
			}

			return status, nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			reason := aws.ToString(exec.Status.StateChangeReason)
			if reason == "" {
				reason = "query failed or was cancelled"
			}

			return nil, apperrors.New(apperrors.ErrTypeExecution, reason).WithExecutionID(executionID)
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}

	return nil, nil
}

// fetchResults pages through results, capping at maxRows data rows. The
// first row of the first page is the header and is skipped.
func (c *Client) fetchResults(ctx context.Context, executionID string, status *executionStatus, maxRows int) (*Result, error) {
	if maxRows <= 0 {
		maxRows = c.config.PreviewRowLimit
	}

	result := &Result{
		ExecutionID:     executionID,
		BytesScanned:    status.bytesScanned,
		ExecutionTimeMS: status.executionTimeMS,
	}

	var (
		nextToken *string
		firstPage = true
	)

	for {
		out, err := c.api.GetQueryResults(ctx, &awsathena.GetQueryResultsInput{
			QueryExecutionId: aws.String(executionID),
			NextToken:        nextToken,
		})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeExecution, "failed to get query results").
				WithExecutionID(executionID)
		}

		if out.ResultSet == nil {
			break
		}

		if len(result.Columns) == 0 && out.ResultSet.ResultSetMetadata != nil {
			for _, col := range out.ResultSet.ResultSetMetadata.ColumnInfo {
				result.Columns = append(result.Columns, aws.ToString(col.Name))
			}
		}

		rows := out.ResultSet.Rows
		if firstPage && len(rows) > 0 && len(result.Columns) > 0 {
			rows = rows[1:]
		}

		firstPage = false

		for _, row := range rows {
			if len(result.Rows) >= maxRows {
				return result, nil
			}

			parsed := make(map[string]string, len(result.Columns))

			for i, datum := range row.Data {
				if i >= len(result.Columns) {
					break
				}

				parsed[result.Columns[i]] = aws.ToString(datum.VarCharValue)
			}

			result.Rows = append(result.Rows, parsed)
		}

		nextToken = out.NextToken
		if nextToken == nil {
			break
		}
	}

	return result, nil
}
