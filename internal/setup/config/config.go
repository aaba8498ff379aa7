package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidBehaviorStore  = errors.New("invalid behavior store backend")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.3.0"

// Current version of the config files.
const (
	CurrentCommonVersion     = 1
	CurrentModerationVersion = 1
)

// Behavior store backends.
const (
	BehaviorStoreMemory = "memory"
	BehaviorStoreRedis  = "redis"
)

// Config represents the entire application configuration.
type Config struct {
	Common     CommonConfig
	Moderation ModerationConfig
}

// CommonConfig contains infrastructure configuration.
type CommonConfig struct {
	// Version of the common config.
	Version        int            `koanf:"version"`
	Debug          Debug          `koanf:"debug"`
	CircuitBreaker CircuitBreaker `koanf:"circuit_breaker"`
	PostgreSQL     PostgreSQL     `koanf:"postgresql"`
	Redis          Redis          `koanf:"redis"`
	OpenAI         OpenAI         `koanf:"openai"`
	Sentry         Sentry         `koanf:"sentry"`
	Uptrace        Uptrace        `koanf:"uptrace"`
}

// ModerationConfig contains the decision engine settings.
type ModerationConfig struct {
	// Version of the moderation config.
	Version  int      `koanf:"version"`
	AI       AI       `koanf:"ai"`
	Behavior Behavior `koanf:"behavior"`
	Audit    Audit    `koanf:"audit"`
	// Optional JSONC file with extra threat patterns, relative to the config directory.
	PatternFile string `koanf:"pattern_file"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log files to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
}

// Sentry contains error reporting configuration.
type Sentry struct {
	// Empty disables error reporting.
	DSN         string `koanf:"dsn"`
	Environment string `koanf:"environment"`
}

// Uptrace contains tracing export configuration.
type Uptrace struct {
	// Empty disables trace export.
	DSN string `koanf:"dsn"`
}

// CircuitBreaker contains circuit breaker configuration.
type CircuitBreaker struct {
	// Maximum number of requests allowed to pass through when the circuit is half-open.
	MaxRequests uint32 `koanf:"max_requests"`
	// The cyclic period of the closed state for the circuit breaker to clear the internal counts.
	Interval int `koanf:"interval"`
	// The period of the open state after which the state of the circuit breaker becomes half-open.
	Timeout int `koanf:"timeout"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	// Turns off client side caching, required by servers without RESP3 tracking.
	DisableCache bool `koanf:"disable_cache"`
}

// OpenAI contains OpenAI-compatible API configuration.
type OpenAI struct {
	// Base URL for the API
	BaseURL string `koanf:"base_url"`
	// API key for authentication
	APIKey string `koanf:"api_key"`
	// Maximum concurrent requests
	MaxConcurrent int64 `koanf:"max_concurrent"`
	// Model name mappings
	ModelMappings map[string]string `koanf:"model_mappings"`
	// Model to use for scam classification
	ScamModel string `koanf:"scam_model"`
}

// AI contains classifier settings.
type AI struct {
	// Whether the remote classifier is consulted at all.
	Enabled bool `koanf:"enabled"`
	// Confidence at which an AI verdict upgrades a decision.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	// Ask the classifier about every message instead of only ambiguous ones.
	UseAIForAllMessages bool `koanf:"use_ai_for_all_messages"`
	// Remote request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
	// Request a JSON schema response instead of parsing free text.
	StructuredOutput bool `koanf:"structured_output"`
}

// Behavior contains behavior tracker settings.
type Behavior struct {
	// Either "memory" or "redis".
	Backend string `koanf:"backend"`
	// Sweep interval in seconds.
	SweepInterval int `koanf:"sweep_interval"`
	// Redis database index used by the redis backend.
	RedisDB int `koanf:"redis_db"`
}

// Audit contains detection log settings.
type Audit struct {
	// Whether detection results are persisted.
	Enabled bool `koanf:"enabled"`
	// Pending entries kept before new ones are dropped.
	QueueSize int `koanf:"queue_size"`
	// Stored message text is truncated to this many characters.
	MaxMessageLength int `koanf:"max_message_length"`
}

// LoadConfig loads the configuration from the standard search paths.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return LoadConfigFromPaths([]string{
		".sentinel",
		homeDir + "/.sentinel/config",
		"/etc/sentinel/config",
		"/app/config",
		"config",
		".",
	})
}

// LoadConfigFromPaths loads common.toml and moderation.toml from the first
// directory in configPaths that contains each file.
func LoadConfigFromPaths(configPaths []string) (*Config, string, error) {
	k := koanf.New(".")

	var usedConfigPath string

	for _, configName := range []string{"common", "moderation"} {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("moderation", config.Moderation.Version, CurrentModerationVersion); err != nil {
		return nil, "", err
	}

	config.applyDefaults()

	switch config.Moderation.Behavior.Backend {
	case BehaviorStoreMemory, BehaviorStoreRedis:
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidBehaviorStore, config.Moderation.Behavior.Backend)
	}

	return &config, usedConfigPath, nil
}

// applyDefaults fills zero values with working defaults.
func (c *Config) applyDefaults() {
	if c.Common.Debug.LogLevel == "" {
		c.Common.Debug.LogLevel = "info"
	}

	if c.Common.Debug.MaxLogsToKeep == 0 {
		c.Common.Debug.MaxLogsToKeep = 10
	}

	if c.Common.Debug.MaxLogLines <= 0 {
		c.Common.Debug.MaxLogLines = 100000
	}

	if c.Common.OpenAI.MaxConcurrent <= 0 {
		c.Common.OpenAI.MaxConcurrent = 4
	}

	if c.Common.CircuitBreaker.MaxRequests == 0 {
		c.Common.CircuitBreaker.MaxRequests = 1
	}

	if c.Common.CircuitBreaker.Timeout == 0 {
		c.Common.CircuitBreaker.Timeout = 30000
	}

	ai := &c.Moderation.AI
	if ai.ConfidenceThreshold <= 0 || ai.ConfidenceThreshold > 1 {
		ai.ConfidenceThreshold = 0.65
	}

	if ai.RequestTimeout <= 0 {
		ai.RequestTimeout = 20000
	}

	if c.Moderation.Behavior.Backend == "" {
		c.Moderation.Behavior.Backend = BehaviorStoreMemory
	}

	if c.Moderation.Behavior.SweepInterval <= 0 {
		c.Moderation.Behavior.SweepInterval = 3600
	}

	if c.Moderation.Audit.QueueSize <= 0 {
		c.Moderation.Audit.QueueSize = 256
	}

	if c.Moderation.Audit.MaxMessageLength <= 0 {
		c.Moderation.Audit.MaxMessageLength = 1000
	}
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/sentinel/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}
