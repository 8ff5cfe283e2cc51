package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/SS8816/rulequery/internal/athena"
	"github.com/SS8816/rulequery/internal/cache"
	"github.com/SS8816/rulequery/internal/engine"
	apperrors "github.com/SS8816/rulequery/internal/errors"
	"github.com/SS8816/rulequery/internal/logging"
	"github.com/SS8816/rulequery/internal/oracle"
	"github.com/SS8816/rulequery/internal/retrieval"
)

var (
	runCategory        string
	runMode            string
	runSchemaFile      string
	runConstraintsFile string
	runShowRows        int
)

var runCmd = &cobra.Command{
	Use:   "run <natural-language-query>",
	Short: "Generate and execute SQL for a rule query",
	Long: `Generate SQL for the given natural-language query against the schema in
--schema-file, validate it, execute it in Athena as a materialized table,
and cache the result under --category.

Examples:
  rulequery run --category WBL039 --schema-file schema.ddl "count toll road violations by region"
  rulequery run --category WBL039 --schema-file schema.ddl --mode reexecute "count toll road violations by region"
  rulequery run --category WBL039 --schema-file schema.ddl --mode force "count toll road violations by region"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runCategory, "category", "", "Rule category key (required)")
	runCmd.Flags().StringVar(&runMode, "mode", "normal", "Execution mode: normal, reexecute, or force")
	runCmd.Flags().StringVar(&runSchemaFile, "schema-file", "", "Path to the schema DDL file (required)")
	runCmd.Flags().StringVar(&runConstraintsFile, "constraints-file", "", "Optional path to extra generation constraints")
	runCmd.Flags().IntVar(&runShowRows, "show-rows", 10, "Preview rows to print (0 disables)")

	_ = runCmd.MarkFlagRequired("category")
	_ = runCmd.MarkFlagRequired("schema-file")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	logger := logging.GetLogger().WithField("run_id", uuid.NewString())

	mode, err := engine.ParseMode(runMode)
	if err != nil {
		return err
	}

	nlQuery := strings.TrimSpace(args[0])
	if nlQuery == "" {
		return apperrors.New(apperrors.ErrTypeConfig, "query must not be empty")
	}

	schemaDDL, err := os.ReadFile(runSchemaFile)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeConfig, "failed to read schema file")
	}

	var constraints string

	if runConstraintsFile != "" {
		data, err := os.ReadFile(runConstraintsFile)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrTypeConfig, "failed to read constraints file")
		}

		constraints = string(data)
	}

	oracleClient, err := oracle.NewClient(cfg.Oracle)
	if err != nil {
		return err
	}

	executor, err := athena.NewClient(ctx, cfg.Athena, logger)
	if err != nil {
		return err
	}

	store, err := cache.NewSQLiteStore(cfg.Cache.Path, cfg.Cache.TTL())
	if err != nil {
		return err
	}
	defer store.Close()

	// A missing docs index is fine; prompts just carry less context.
	var index retrieval.Index

	if idx, err := retrieval.Open(cfg.Retrieval.IndexPath); err == nil {
		index = idx
		defer idx.Close()
	} else {
		logger.WithError(err).Debug("Docs index unavailable, continuing without retrieval")
	}

	eng := engine.New(engine.Dependencies{
		Oracle:   oracleClient,
		Executor: executor,
		Index:    index,
		Store:    store,
		Logger:   logger,
		Config:   *cfg,
	})

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " starting"
	spin.Start()

	result, err := eng.Run(ctx, engine.Request{
		NLQuery:      nlQuery,
		SchemaDDL:    string(schemaDDL),
		Constraints:  constraints,
		RuleCategory: runCategory,
		Mode:         mode,
	}, func(p engine.Progress) {
		if p.Attempt > 0 {
			spin.Suffix = fmt.Sprintf(" %s (attempt %d)", p.Message, p.Attempt)
		} else {
			spin.Suffix = " " + p.Message
		}
	})

	spin.Stop()

	if err != nil {
		if apperrors.IsType(err, apperrors.ErrTypeExecutionTimeout) {
			if id := apperrors.ExecutionIDOf(err); id != "" {
				fmt.Fprintf(os.Stderr, "Query is still running in Athena. Execution ID: %s\n", id)
				fmt.Fprintf(os.Stderr, "Check its status in the Athena console or re-run once it finishes.\n\n")
			}
		}

		if result != nil && result.SQL != "" {
			fmt.Fprintf(os.Stderr, "Last attempted SQL:\n%s\n\n", result.SQL)
		}

		return err
	}

	printRunResult(result)

	return nil
}

func printRunResult(result *engine.Result) {
	if result.CacheHit {
		fmt.Printf("Served from cache (age: %s)\n\n", formatCacheAge(result.CacheAge))
	}

	fmt.Printf("SQL:\n%s\n\n", result.SQL)
	fmt.Printf("Database:           %s\n", result.Database)
	fmt.Printf("Materialized table: %s\n", result.MaterializedTable)
	fmt.Printf("Execution ID:       %s\n", result.ExecutionID)

	if result.StoragePath != "" {
		fmt.Printf("Results file:       %s\n", result.StoragePath)
	}

	fmt.Printf("Rows:               %d\n", result.RowCount)
	fmt.Printf("Bytes scanned:      %d\n", result.BytesScanned)

	if result.RetryCount > 0 {
		fmt.Printf("Repair attempts:    %d\n", result.RetryCount)
	}

	if runShowRows > 0 && len(result.Rows) > 0 {
		fmt.Println("\nPreview:")
		printRows(result.Columns, result.Rows, runShowRows)
	}
}

func printRows(columns []string, rows []map[string]string, limit int) {
	if len(columns) > 0 {
		fmt.Println("  " + strings.Join(columns, " | "))
	}

	for i, row := range rows {
		if i >= limit {
			fmt.Printf("  ... %d more rows\n", len(rows)-limit)
			break
		}

		values := make([]string, 0, len(columns))
		for _, col := range columns {
			values = append(values, row[col])
		}

		fmt.Println("  " + strings.Join(values, " | "))
	}
}

func formatCacheAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
