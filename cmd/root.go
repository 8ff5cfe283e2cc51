package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/SS8816/rulequery/internal/config"
	"github.com/SS8816/rulequery/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "rulequery",
	Short: "Generate, validate, and execute analytics SQL from natural language",
	Long: `rulequery turns a natural-language rule description into validated SQL,
materializes the result as a timestamped table in Athena, and caches the
outcome per rule category so repeated runs are served without re-executing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx := context.Background()

	defer func() {
		if logger := logging.GetLogger(); logger != nil {
			logger.Close()
		}
	}()

	return rootCmd.ExecuteContext(ctx)
}

// loadRuntime loads the configuration and installs the process logger.
// Every subcommand goes through it.
func loadRuntime() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
	}

	return cfg, nil
}
