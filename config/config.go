// Package config loads meetwise service configuration and operator client settings.
// Both support YAML files and MEETWISE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetwise/pkg/api"
	"github.com/otherjamesbrown/meetwise/pkg/assistant"
	"github.com/otherjamesbrown/meetwise/pkg/db"
	"github.com/otherjamesbrown/meetwise/pkg/dedup"
	"github.com/otherjamesbrown/meetwise/pkg/ingest"
	"github.com/otherjamesbrown/meetwise/pkg/llm"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline/queues"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline/workers"
	"github.com/otherjamesbrown/meetwise/pkg/transcription"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEETWISE_"

// RedisConfig holds Redis connection settings. An empty Addr selects the
// in-memory dedup window, job queue and a no-op event publisher.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Enabled reports whether Redis-backed components should be used.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// PipelineConfig groups the coordinator, its queue and its worker pool.
type PipelineConfig struct {
	pipeline.Config `yaml:",inline"`

	Queue   queues.Config  `yaml:"queue"`
	Workers workers.Config `yaml:"workers"`
}

// LogFileConfig enables rotated file output in addition to stdout.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level       string        `yaml:"level"`
	JSON        bool          `yaml:"json"`
	Environment string        `yaml:"environment"`
	File        LogFileConfig `yaml:"file"`
}

// LoggerConfig converts to the logging package configuration.
func (c LoggingConfig) LoggerConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.Level)
	cfg.JSONFormat = c.JSON
	if c.Environment != "" {
		cfg.Environment = c.Environment
	}
	if c.File.Path != "" {
		cfg.File = &logging.FileConfig{
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
			Compress:   c.File.Compress,
		}
	}
	return cfg
}

// AuditConfig controls the durable audit log.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	// DSN defaults to the database DSN when empty.
	DSN string `yaml:"dsn"`
}

// TracingConfig controls span emission.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the full service configuration.
type Config struct {
	Server        api.Config           `yaml:"server"`
	Database      db.Config            `yaml:"database"`
	Redis         RedisConfig          `yaml:"redis"`
	NATS          ingest.Config        `yaml:"nats"`
	Dedup         dedup.Config         `yaml:"dedup"`
	Pipeline      PipelineConfig       `yaml:"pipeline"`
	LLM           llm.Config           `yaml:"llm"`
	Transcription transcription.Config `yaml:"transcription"`
	Assistant     assistant.Config     `yaml:"assistant"`
	Logging       LoggingConfig        `yaml:"logging"`
	Audit         AuditConfig          `yaml:"audit"`
	Tracing       TracingConfig        `yaml:"tracing"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server:   api.DefaultConfig(),
		Database: db.DefaultConfig(),
		Redis:    RedisConfig{KeyPrefix: "meetwise"},
		NATS:     ingest.DefaultConfig(),
		Dedup:    dedup.DefaultConfig(),
		Pipeline: PipelineConfig{
			Config:  pipeline.DefaultConfig(),
			Queue:   queues.DefaultConfig(),
			Workers: workers.DefaultConfig(),
		},
		LLM: llm.Config{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Timeout:     2 * time.Minute,
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Transcription: transcription.Config{
			BaseURL:        "https://api.openai.com",
			Model:          "whisper-1",
			Timeout:        10 * time.Minute,
			ResponseFormat: "vtt",
		},
		Assistant: assistant.DefaultConfig(),
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "development",
			File: LogFileConfig{
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load reads configuration in this order (later sources override earlier):
//  1. Default values
//  2. The YAML file at path, if path is non-empty
//  3. MEETWISE_* environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	// Fields absent from the file keep their defaults.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// envLoader collects the first parse failure so a typo in a duration or
// number is reported rather than silently ignored.
type envLoader struct {
	err error
}

func (l *envLoader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (l *envLoader) str(name string, dst *string) {
	if v, ok := l.lookup(name); ok {
		*dst = v
	}
}

func (l *envLoader) boolean(name string, dst *bool) {
	if v, ok := l.lookup(name); ok {
		*dst = v == "true" || v == "1"
	}
}

func (l *envLoader) integer(name string, dst *int) {
	if v, ok := l.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.fail(name, err)
			return
		}
		*dst = n
	}
}

func (l *envLoader) duration(name string, dst *time.Duration) {
	if v, ok := l.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			l.fail(name, err)
			return
		}
		*dst = d
	}
}

func (l *envLoader) fail(name string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
}

func loadFromEnv(cfg *Config) error {
	l := &envLoader{}

	l.str("SERVER_ADDR", &cfg.Server.Addr)
	l.str("WEBHOOK_SECRET", &cfg.Server.WebhookSecret)
	l.str("OPERATOR_TOKEN_HASH", &cfg.Server.OperatorTokenHash)

	l.str("DATABASE_DSN", &cfg.Database.DSN)
	l.str("DATABASE_HOST", &cfg.Database.Host)
	l.integer("DATABASE_PORT", &cfg.Database.Port)
	l.str("DATABASE_NAME", &cfg.Database.Database)
	l.str("DATABASE_USER", &cfg.Database.User)
	l.str("DATABASE_PASSWORD", &cfg.Database.Password)
	l.str("DATABASE_SSLMODE", &cfg.Database.SSLMode)

	l.str("REDIS_ADDR", &cfg.Redis.Addr)
	l.str("REDIS_PASSWORD", &cfg.Redis.Password)
	l.integer("REDIS_DB", &cfg.Redis.DB)

	l.boolean("NATS_ENABLED", &cfg.NATS.Enabled)
	l.str("NATS_URL", &cfg.NATS.URL)

	l.duration("DEDUP_WINDOW", &cfg.Dedup.Window)
	l.integer("DEDUP_MAX_ENTRIES", &cfg.Dedup.MaxEntries)

	l.integer("PIPELINE_MAX_ATTEMPTS", &cfg.Pipeline.Retry.MaxAttempts)
	l.duration("PIPELINE_INITIAL_BACKOFF", &cfg.Pipeline.Retry.InitialBackoff)
	l.duration("PIPELINE_MAX_BACKOFF", &cfg.Pipeline.Retry.MaxBackoff)
	l.duration("PIPELINE_STAGE_TIMEOUT", &cfg.Pipeline.StageTimeout)
	l.duration("PIPELINE_STALE_AFTER", &cfg.Pipeline.StaleAfter)
	l.integer("PIPELINE_SUMMARY_INPUT_CHARS", &cfg.Pipeline.SummaryInputChars)
	l.integer("PIPELINE_WORKERS", &cfg.Pipeline.Workers.Count)

	l.str("LLM_BASE_URL", &cfg.LLM.BaseURL)
	l.str("LLM_API_KEY", &cfg.LLM.APIKey)
	l.str("LLM_MODEL", &cfg.LLM.Model)

	l.str("TRANSCRIPTION_BASE_URL", &cfg.Transcription.BaseURL)
	l.str("TRANSCRIPTION_API_KEY", &cfg.Transcription.APIKey)
	l.str("TRANSCRIPTION_MODEL", &cfg.Transcription.Model)

	// The transcription service usually shares the LLM provider's key.
	if cfg.Transcription.APIKey == "" {
		cfg.Transcription.APIKey = cfg.LLM.APIKey
	}

	l.str("LOG_LEVEL", &cfg.Logging.Level)
	l.boolean("LOG_JSON", &cfg.Logging.JSON)
	l.str("LOG_FILE", &cfg.Logging.File.Path)
	l.str("ENVIRONMENT", &cfg.Logging.Environment)

	l.boolean("AUDIT_ENABLED", &cfg.Audit.Enabled)
	l.boolean("TRACING_ENABLED", &cfg.Tracing.Enabled)

	return l.err
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Dedup.Window <= 0 {
		return fmt.Errorf("dedup.window must be positive")
	}
	if c.Dedup.MaxEntries <= 0 {
		return fmt.Errorf("dedup.max_entries must be positive")
	}
	if err := c.Pipeline.Retry.Validate(); err != nil {
		return fmt.Errorf("pipeline.retry: %w", err)
	}
	if err := c.Pipeline.Config.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" || c.NATS.Stream == "" || c.NATS.Durable == "" {
			return fmt.Errorf("nats: url, stream and durable are required when enabled")
		}
		if len(c.NATS.Subjects) == 0 {
			return fmt.Errorf("nats.subjects must not be empty")
		}
	}
	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		return fmt.Errorf("llm.base_url and llm.model are required")
	}
	if c.Transcription.BaseURL == "" {
		return fmt.Errorf("transcription.base_url is required")
	}
	switch c.Transcription.ResponseFormat {
	case "json", "vtt":
	default:
		return fmt.Errorf("invalid transcription.response_format: %q (must be json or vtt)", c.Transcription.ResponseFormat)
	}
	switch logging.Level(c.Logging.Level) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

// AuditDSN returns the connection string for the audit log.
func (c *Config) AuditDSN() string {
	if c.Audit.DSN != "" {
		return c.Audit.DSN
	}
	return c.Database.ConnectionString()
}

// Redacted returns a copy safe to print, with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Server.WebhookSecret = mask(c.Server.WebhookSecret)
	out.Database.Password = mask(c.Database.Password)
	if c.Database.DSN != "" {
		out.Database.DSN = mask(c.Database.DSN)
	}
	out.Redis.Password = mask(c.Redis.Password)
	out.LLM.APIKey = mask(c.LLM.APIKey)
	out.Transcription.APIKey = mask(c.Transcription.APIKey)
	out.Audit.DSN = mask(c.Audit.DSN)
	return &out
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
