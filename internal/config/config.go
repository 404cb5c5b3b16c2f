package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "INSIGHT_QUERY_"

// Config represents the application configuration
type Config struct {
	Security   SecurityConfig   `json:"security"`
	Classifier ClassifierConfig `json:"classifier"`
	Correction CorrectionConfig `json:"correction"`
	Catalog    CatalogConfig    `json:"catalog"`
	Warehouse  WarehouseConfig  `json:"warehouse"`
	Cache      CacheConfig      `json:"cache"`
	Logging    LoggingConfig    `json:"logging"`
}

// SecurityConfig holds the values that become the immutable security policy
type SecurityConfig struct {
	MaxQueryLength      int      `json:"max_query_length"       env:"MAX_QUERY_LENGTH"       envDefault:"10000"`
	RateLimitPerMinute  int      `json:"rate_limit_per_minute"  env:"RATE_LIMIT_PER_MINUTE"  envDefault:"60"`
	AllowedSchemas      []string `json:"allowed_schemas"        env:"ALLOWED_SCHEMAS"        envDefault:"main,analytics" envSeparator:","`
	InjectionProtection bool     `json:"injection_protection"   env:"INJECTION_PROTECTION"   envDefault:"true"`
}

// ClassifierConfig tunes the intent confidence curve
type ClassifierConfig struct {
	BaseConfidence  float64 `json:"base_confidence"  env:"CLASSIFIER_BASE_CONFIDENCE"  envDefault:"0.3"`
	CueWeight       float64 `json:"cue_weight"       env:"CLASSIFIER_CUE_WEIGHT"       envDefault:"0.1"`
	TableWeight     float64 `json:"table_weight"     env:"CLASSIFIER_TABLE_WEIGHT"     envDefault:"0.2"`
	MaxConfidence   float64 `json:"max_confidence"   env:"CLASSIFIER_MAX_CONFIDENCE"   envDefault:"1.0"`
	DefaultTopLimit int     `json:"default_top_limit" env:"CLASSIFIER_DEFAULT_TOP_LIMIT" envDefault:"10"`
}

// CorrectionConfig tunes the auto-correction threshold and budget
type CorrectionConfig struct {
	MaxAttempts   int `json:"max_attempts"   env:"CORRECTION_MAX_ATTEMPTS"   envDefault:"3"`
	MinThreshold  int `json:"min_threshold"  env:"CORRECTION_MIN_THRESHOLD"  envDefault:"1"`
	LengthDivisor int `json:"length_divisor" env:"CORRECTION_LENGTH_DIVISOR" envDefault:"4"`
}

// CatalogConfig describes where table descriptors come from
type CatalogConfig struct {
	File          string `json:"file"           env:"CATALOG_FILE"           envDefault:""`
	DefaultSchema string `json:"default_schema" env:"CATALOG_DEFAULT_SCHEMA" envDefault:"main"`
	Introspect    bool   `json:"introspect"     env:"CATALOG_INTROSPECT"     envDefault:"false"`
}

// WarehouseConfig represents the DuckDB execution collaborator configuration
type WarehouseConfig struct {
	Path            string `json:"path"               env:"WAREHOUSE_PATH"               envDefault:""`
	MaxConnections  int    `json:"max_connections"    env:"WAREHOUSE_MAX_CONNECTIONS"    envDefault:"4"`
	MaxIdleConns    int    `json:"max_idle_conns"     env:"WAREHOUSE_MAX_IDLE_CONNS"     envDefault:"2"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  env:"WAREHOUSE_CONN_MAX_LIFETIME"  envDefault:"30m"`
	QueryTimeout    string `json:"query_timeout"      env:"WAREHOUSE_QUERY_TIMEOUT"      envDefault:"30s"`
	RetryAttempts   int    `json:"retry_attempts"     env:"WAREHOUSE_RETRY_ATTEMPTS"     envDefault:"3"`
	MaxRows         int    `json:"max_rows"           env:"WAREHOUSE_MAX_ROWS"           envDefault:"1000"`
}

// CacheConfig represents catalog snapshot caching configuration
type CacheConfig struct {
	Directory string `json:"directory" env:"CACHE_DIR"       envDefault:"~/.cache/insight-query"`
	TTL       string `json:"ttl"       env:"CACHE_TTL"       envDefault:"1h"`
	Enabled   bool   `json:"enabled"   env:"CACHE_ENABLED"   envDefault:"true"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LOG_LEVEL"      envDefault:"info"`                                 // debug, info, warn, error
	Format    string `json:"format"     env:"LOG_FORMAT"     envDefault:"text"`                                 // text, json
	Output    string `json:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"`                               // stdout, stderr, file
	File      string `json:"file"       env:"LOG_FILE"       envDefault:"~/.config/insight-query/logs/app.log"` // log file path when output is file
	AddSource bool   `json:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`                                // add caller info to logs
}

// DefaultConfig returns the configuration built from envDefault tags alone
func DefaultConfig() *Config {
	cfg := &Config{}
	// An empty, non-nil environment keeps the process environment out
	_ = env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix, Environment: map[string]string{}})

	return cfg
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ExpandAllPaths()

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// applyEnvironmentOverrides parses only the variables that are actually set, so
// envDefault values never clobber what the config file provided
func applyEnvironmentOverrides(config *Config) error {
	envConfig := &Config{}
	if err := env.ParseWithOptions(envConfig, env.Options{
		Prefix:              envPrefix,
		DefaultValueTagName: "envOverrideOnly",
	}); err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}

	mergeConfigs(config, envConfig)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "catalog":
			if str, ok := value.(string); ok && str != "" {
				config.Catalog.File = str
			}
		case "warehouse":
			if str, ok := value.(string); ok && str != "" {
				config.Warehouse.Path = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "log-format":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Format = str
			}
		case "introspect":
			if b, ok := value.(bool); ok {
				config.Catalog.Introspect = b
			}
		case "no-cache":
			if b, ok := value.(bool); ok && b {
				config.Cache.Enabled = false
			}
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

// mergeConfigs copies every non-zero field of source over target. Booleans are only
// copied when true so a file cannot silently switch off a default.
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		switch {
		case t.Kind() == reflect.Struct:
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		case !s.IsZero():
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	if config.Security.MaxQueryLength <= 0 {
		return fmt.Errorf("max query length must be positive: %d", config.Security.MaxQueryLength)
	}

	if config.Security.RateLimitPerMinute <= 0 {
		return fmt.Errorf(
			"rate limit per minute must be positive: %d",
			config.Security.RateLimitPerMinute,
		)
	}

	if len(config.Security.AllowedSchemas) == 0 {
		return fmt.Errorf("at least one allowed schema is required")
	}

	if config.Classifier.BaseConfidence < 0 || config.Classifier.MaxConfidence > 1 ||
		config.Classifier.BaseConfidence > config.Classifier.MaxConfidence {
		return fmt.Errorf(
			"classifier confidence bounds must satisfy 0 <= base (%.2f) <= max (%.2f) <= 1",
			config.Classifier.BaseConfidence,
			config.Classifier.MaxConfidence,
		)
	}

	if config.Classifier.CueWeight < 0 || config.Classifier.TableWeight < 0 {
		return fmt.Errorf("classifier weights must not be negative")
	}

	if config.Correction.MaxAttempts < 0 {
		return fmt.Errorf("correction max attempts must not be negative: %d", config.Correction.MaxAttempts)
	}

	if config.Correction.LengthDivisor <= 0 {
		return fmt.Errorf("correction length divisor must be positive: %d", config.Correction.LengthDivisor)
	}

	if _, err := time.ParseDuration(config.Warehouse.QueryTimeout); err != nil {
		return fmt.Errorf("invalid warehouse query timeout: %s", config.Warehouse.QueryTimeout)
	}

	if _, err := time.ParseDuration(config.Warehouse.ConnMaxLifetime); err != nil {
		return fmt.Errorf("invalid warehouse connection lifetime: %s", config.Warehouse.ConnMaxLifetime)
	}

	if config.Warehouse.MaxConnections <= 0 {
		return fmt.Errorf(
			"warehouse max connections must be positive: %d",
			config.Warehouse.MaxConnections,
		)
	}

	if _, err := time.ParseDuration(config.Cache.TTL); err != nil {
		return fmt.Errorf("invalid cache ttl: %s", config.Cache.TTL)
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return ExpandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Catalog.File = ExpandPath(c.Catalog.File)
	c.Warehouse.Path = ExpandPath(c.Warehouse.Path)
	c.Cache.Directory = ExpandPath(c.Cache.Directory)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// QueryTimeoutDuration returns the parsed warehouse query timeout
func (c *WarehouseConfig) QueryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// TTLDuration returns the parsed cache TTL
func (c *CacheConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return time.Hour
	}

	return d
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/insight-query"
	}

	return filepath.Join(homeDir, ".config", "insight-query")
}
