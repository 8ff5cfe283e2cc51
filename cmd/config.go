package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SS8816/rulequery/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display the active configuration",
	Long:  `Show the merged configuration from the config file and environment variables. Secrets are masked.`,
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	fmt.Printf("Config file: %s\n", config.GetConfigPath())

	fmt.Println("\nAthena:")
	fmt.Printf("  Region:            %s\n", cfg.Athena.Region)
	fmt.Printf("  Workgroup:         %s\n", valueOrDash(cfg.Athena.Workgroup))
	fmt.Printf("  Output Location:   %s\n", cfg.Athena.OutputLocation)
	fmt.Printf("  Poll Interval:     %s\n", cfg.Athena.PollInterval)
	fmt.Printf("  Timeout:           %s\n", cfg.Athena.Timeout)
	fmt.Printf("  Preview Row Limit: %d\n", cfg.Athena.PreviewRowLimit)

	fmt.Println("\nOracle:")
	fmt.Printf("  Provider:    %s\n", cfg.Oracle.Provider)
	fmt.Printf("  Base URL:    %s\n", valueOrDash(cfg.Oracle.BaseURL))
	fmt.Printf("  API Key:     %s\n", maskSecret(cfg.Oracle.APIKey))
	fmt.Printf("  Model:       %s\n", cfg.Oracle.Model)
	fmt.Printf("  Deployment:  %s\n", valueOrDash(cfg.Oracle.Deployment))
	fmt.Printf("  Temperature: %.1f\n", cfg.Oracle.Temperature)
	fmt.Printf("  Timeout:     %s\n", cfg.Oracle.Timeout)

	fmt.Println("\nRetrieval:")
	fmt.Printf("  Index Path: %s\n", cfg.Retrieval.IndexPath)
	fmt.Printf("  Base K:     %d\n", cfg.Retrieval.BaseK)
	fmt.Printf("  Repair K:   %d\n", cfg.Retrieval.RepairK)

	fmt.Println("\nCache:")
	fmt.Printf("  Path: %s\n", cfg.Cache.Path)
	fmt.Printf("  TTL:  %d hours\n", cfg.Cache.TTLHours)

	fmt.Println("\nEngine:")
	fmt.Printf("  Max Retries: %d\n", cfg.Engine.MaxRetries)
	fmt.Printf("  Error Notes: %s\n", valueOrDash(cfg.Engine.ErrorNotesPath))

	fmt.Println("\nLogging:")
	fmt.Printf("  Level:  %s\n", cfg.Logging.Level)
	fmt.Printf("  Format: %s\n", cfg.Logging.Format)
	fmt.Printf("  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Printf("  File:   %s\n", cfg.Logging.File)
	}

	fmt.Println("\nMetrics:")
	fmt.Printf("  Enabled:     %t\n", cfg.Metrics.Enabled)
	fmt.Printf("  Listen Addr: %s\n", cfg.Metrics.ListenAddr)

	fmt.Println("\nStorage:")
	fmt.Printf("  Endpoint:   %s\n", valueOrDash(cfg.Storage.Endpoint))
	fmt.Printf("  Bucket:     %s\n", valueOrDash(cfg.Storage.Bucket))
	fmt.Printf("  Access Key: %s\n", maskSecret(cfg.Storage.AccessKey))
	fmt.Printf("  Use SSL:    %t\n", cfg.Storage.UseSSL)

	return nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func maskSecret(s string) string {
	if s == "" {
		return "-"
	}

	if len(s) <= 8 {
		return "****"
	}

	return s[:4] + "****"
}
