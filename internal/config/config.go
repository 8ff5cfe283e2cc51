package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	Athena    AthenaConfig    `json:"athena"    envPrefix:"RULEQUERY_"`
	Oracle    OracleConfig    `json:"oracle"    envPrefix:"RULEQUERY_"`
	Retrieval RetrievalConfig `json:"retrieval" envPrefix:"RULEQUERY_"`
	Cache     CacheConfig     `json:"cache"     envPrefix:"RULEQUERY_"`
	Engine    EngineConfig    `json:"engine"    envPrefix:"RULEQUERY_"`
	Logging   LoggingConfig   `json:"logging"   envPrefix:"RULEQUERY_"`
	Metrics   MetricsConfig   `json:"metrics"   envPrefix:"RULEQUERY_"`
	Storage   StorageConfig   `json:"storage"   envPrefix:"RULEQUERY_"`
}

// AthenaConfig represents the execution-service configuration
type AthenaConfig struct {
	Region           string `json:"region"             env:"ATHENA_REGION"            envDefault:"us-east-1"`
	Workgroup        string `json:"workgroup"          env:"ATHENA_WORKGROUP"`
	OutputLocation   string `json:"output_location"    env:"ATHENA_OUTPUT_LOCATION"`
	PollInterval     string `json:"poll_interval"      env:"ATHENA_POLL_INTERVAL"     envDefault:"1s"`
	Timeout          string `json:"timeout"            env:"ATHENA_TIMEOUT"           envDefault:"30m"`
	PreviewRowLimit  int    `json:"preview_row_limit"  env:"ATHENA_PREVIEW_ROW_LIMIT" envDefault:"1000"`
	MaxQueryLengthKB int    `json:"max_query_length_kb" env:"ATHENA_MAX_QUERY_KB"     envDefault:"100"`
}

// OracleConfig represents the completion-service configuration
type OracleConfig struct {
	Provider    string  `json:"provider"    env:"ORACLE_PROVIDER"    envDefault:"openai"` // openai, azure
	BaseURL     string  `json:"base_url"    env:"ORACLE_BASE_URL"`
	APIKey      string  `json:"api_key"     env:"ORACLE_API_KEY"`
	Model       string  `json:"model"       env:"ORACLE_MODEL"       envDefault:"gpt-4o"`
	Deployment  string  `json:"deployment"  env:"ORACLE_DEPLOYMENT"`           // azure only
	APIVersion  string  `json:"api_version" env:"ORACLE_API_VERSION"`          // azure only
	Temperature float64 `json:"temperature" env:"ORACLE_TEMPERATURE" envDefault:"1.0"`
	Timeout     string  `json:"timeout"     env:"ORACLE_TIMEOUT"     envDefault:"60s"`
}

// RetrievalConfig represents the similarity-index configuration
type RetrievalConfig struct {
	IndexPath string `json:"index_path" env:"RETRIEVAL_INDEX_PATH" envDefault:"~/.config/rulequery/docs_index.db"`
	BaseK     int    `json:"base_k"     env:"RETRIEVAL_BASE_K"     envDefault:"2"`
	RepairK   int    `json:"repair_k"   env:"RETRIEVAL_REPAIR_K"   envDefault:"3"`
}

// CacheConfig represents the result-cache configuration
type CacheConfig struct {
	Path     string `json:"path"      env:"CACHE_PATH"      envDefault:"~/.config/rulequery/query_cache.db"`
	TTLHours int    `json:"ttl_hours" env:"CACHE_TTL_HOURS" envDefault:"168"`
}

// EngineConfig represents orchestration-engine configuration
type EngineConfig struct {
	MaxRetries     int    `json:"max_retries"      env:"ENGINE_MAX_RETRIES" envDefault:"5"`
	ErrorNotesPath string `json:"error_notes_path" env:"ENGINE_ERROR_NOTES"` // optional production-error notes for syntax validation
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"  env:"LOG_LEVEL"  envDefault:"info"`   // debug, info, warn, error
	Format string `json:"format" env:"LOG_FORMAT" envDefault:"text"`   // text, json
	Output string `json:"output" env:"LOG_OUTPUT" envDefault:"stderr"` // stdout, stderr, file
	File   string `json:"file"   env:"LOG_FILE"   envDefault:"~/.config/rulequery/logs/app.log"`
}

// MetricsConfig represents the metrics endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `json:"enabled"     env:"METRICS_ENABLED"     envDefault:"false"`
	ListenAddr string `json:"listen_addr" env:"METRICS_LISTEN_ADDR" envDefault:":9090"`
}

// StorageConfig represents the object-store used for materialized-table data
// reclamation. Only the cleanup path touches it.
type StorageConfig struct {
	Endpoint  string `json:"endpoint"   env:"STORAGE_ENDPOINT"`
	AccessKey string `json:"access_key" env:"STORAGE_ACCESS_KEY"`
	SecretKey string `json:"secret_key" env:"STORAGE_SECRET_KEY"`
	Bucket    string `json:"bucket"     env:"STORAGE_BUCKET"`
	UseSSL    bool   `json:"use_ssl"    env:"STORAGE_USE_SSL" envDefault:"true"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	config := &Config{}

	// Load from config file if it exists
	configPath := GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Apply environment variable overrides (also sets defaults)
	if err := env.ParseWithOptions(config, env.Options{
		Prefix: "RULEQUERY_",
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	if path := os.Getenv("RULEQUERY_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".rulequery.json"
	}

	return filepath.Join(homeDir, ".config", "rulequery", "config.json")
}

// expandPaths expands ~ prefixes in all configured filesystem paths
func expandPaths(config *Config) {
	config.Cache.Path = ExpandPath(config.Cache.Path)
	config.Retrieval.IndexPath = ExpandPath(config.Retrieval.IndexPath)
	config.Logging.File = ExpandPath(config.Logging.File)
	config.Engine.ErrorNotesPath = ExpandPath(config.Engine.ErrorNotesPath)
}

// ExpandPath expands a leading ~ to the user home directory
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if _, err := time.ParseDuration(config.Athena.PollInterval); err != nil {
		return fmt.Errorf("invalid athena poll interval %q: %w", config.Athena.PollInterval, err)
	}

	if _, err := time.ParseDuration(config.Athena.Timeout); err != nil {
		return fmt.Errorf("invalid athena timeout %q: %w", config.Athena.Timeout, err)
	}

	if _, err := time.ParseDuration(config.Oracle.Timeout); err != nil {
		return fmt.Errorf("invalid oracle timeout %q: %w", config.Oracle.Timeout, err)
	}

	switch config.Oracle.Provider {
	case "openai", "azure":
	default:
		return fmt.Errorf("invalid oracle provider: %s", config.Oracle.Provider)
	}

	if config.Oracle.Provider == "azure" && config.Oracle.Deployment == "" {
		return fmt.Errorf("oracle deployment is required for the azure provider")
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	switch config.Logging.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", config.Logging.Output)
	}

	if config.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine max retries must be non-negative")
	}

	if config.Cache.TTLHours <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if config.Athena.PreviewRowLimit <= 0 {
		return fmt.Errorf("athena preview row limit must be positive")
	}

	return nil
}

// PollIntervalDuration returns the parsed poll interval
func (c AthenaConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return time.Second
	}

	return d
}

// TimeoutDuration returns the parsed wall-clock budget
func (c AthenaConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Minute
	}

	return d
}

// TimeoutDuration returns the parsed completion-call timeout
func (c OracleConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}

	return d
}

// TTL returns the cache time-to-live as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}
