// Package config handles TOML configuration for Arbiter.
package config

import (
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/arbiter/analyzer"
)

// Environment variables that override the directory section.
const (
	EnvServer   = "AD_SERVER"
	EnvUsername = "AD_USERNAME"
	EnvPassword = "AD_PASSWORD"
	EnvBaseDN   = "BASE_DN"
)

// Config is the root configuration structure.
type Config struct {
	Analysis  AnalysisConfig  `toml:"analysis"`
	Directory DirectoryConfig `toml:"directory"`
	Storage   StorageConfig   `toml:"storage"`
	Journal   JournalConfig   `toml:"journal"`
	Policy    PolicyConfig    `toml:"policy"`
	Publish   PublishConfig   `toml:"publish"`
	OTEL      OTELConfig      `toml:"otel"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Log       LogConfig       `toml:"log"`
}

// AnalysisConfig holds classification settings.
type AnalysisConfig struct {
	Threshold   int    `toml:"threshold"`
	Delimiter   string `toml:"delimiter"`
	Parallelism int    `toml:"parallelism"`
}

// DirectoryConfig holds LDAP lookup settings.
type DirectoryConfig struct {
	Server     string `toml:"server"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	BaseDN     string `toml:"base_dn"`
	TimeoutStr string `toml:"timeout"`
	Timeout    time.Duration
}

// StorageConfig holds run history settings. Path is the directory holding
// arbiter.db; an empty path disables history.
type StorageConfig struct {
	Path     string `toml:"path"`
	KeepRuns int64  `toml:"keep_runs"`
}

// JournalConfig holds run journal settings. An empty dir disables the journal.
type JournalConfig struct {
	Dir           string `toml:"dir"`
	MaxFileSize   int64  `toml:"max_file_size"`
	RetentionDays int    `toml:"retention_days"`
}

// PolicyConfig holds policy review settings.
type PolicyConfig struct {
	Dir      string `toml:"dir"`
	Defaults bool   `toml:"defaults"`
}

// PublishConfig holds report upload settings. An empty bucket disables publishing.
type PublishConfig struct {
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
	Region string `toml:"region"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	// Defaults always parse
	_ = parseTimeout(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	if err := parseTimeout(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Analysis.Threshold == 0 {
		cfg.Analysis.Threshold = analyzer.DefaultThreshold
	}
	if cfg.Analysis.Delimiter == "" {
		cfg.Analysis.Delimiter = ","
	}
	if cfg.Directory.TimeoutStr == "" {
		cfg.Directory.TimeoutStr = "10s"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "arbiter"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// applyEnv lets the environment override directory credentials.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvServer); v != "" {
		cfg.Directory.Server = v
	}
	if v := os.Getenv(EnvUsername); v != "" {
		cfg.Directory.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Directory.Password = v
	}
	if v := os.Getenv(EnvBaseDN); v != "" {
		cfg.Directory.BaseDN = v
	}
}

func parseTimeout(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Directory.TimeoutStr)
	if err != nil {
		return fmt.Errorf("parse directory timeout %q: %w", cfg.Directory.TimeoutStr, err)
	}
	cfg.Directory.Timeout = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if err := analyzer.ValidateThreshold(c.Analysis.Threshold); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if utf8.RuneCountInString(c.Analysis.Delimiter) != 1 {
		return fmt.Errorf("analysis: delimiter must be a single character (got %q)", c.Analysis.Delimiter)
	}
	if c.Analysis.Parallelism < 0 {
		return fmt.Errorf("analysis: parallelism must not be negative (got %d)", c.Analysis.Parallelism)
	}
	if c.Storage.KeepRuns < 0 {
		return fmt.Errorf("storage: keep_runs must not be negative (got %d)", c.Storage.KeepRuns)
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal: retention_days must not be negative (got %d)", c.Journal.RetentionDays)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	return nil
}

// AnalyzerConfig converts the analysis section.
func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		Threshold:   c.Analysis.Threshold,
		Delimiter:   c.Analysis.Delimiter,
		Parallelism: c.Analysis.Parallelism,
	}
}

// MissingDirectoryVars lists the directory settings that are still unset,
// by the environment variable that would supply them.
func (c *Config) MissingDirectoryVars() []string {
	var missing []string
	if c.Directory.Server == "" {
		missing = append(missing, EnvServer)
	}
	if c.Directory.Username == "" {
		missing = append(missing, EnvUsername)
	}
	if c.Directory.Password == "" {
		missing = append(missing, EnvPassword)
	}
	if c.Directory.BaseDN == "" {
		missing = append(missing, EnvBaseDN)
	}
	return missing
}

// DirectoryConfigured reports whether LDAP lookups can be attempted.
func (c *Config) DirectoryConfigured() bool {
	return len(c.MissingDirectoryVars()) == 0
}
