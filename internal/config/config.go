// ABOUTME: Configuration loading and parsing for livechat-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete livechat-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChatConfig holds chat service timing and sizing configuration
type ChatConfig struct {
	IdleTimeout          time.Duration `yaml:"-"`
	IdleSweepInterval    time.Duration `yaml:"-"`
	TypingCeiling        time.Duration `yaml:"-"`
	TypingSweepInterval  time.Duration `yaml:"-"`
	ReconnectGracePeriod time.Duration `yaml:"-"`
	DedupeTTL            time.Duration `yaml:"-"`

	SendBuffer   int `yaml:"send_buffer"`   // per-connection outbound queue size
	HistoryLimit int `yaml:"history_limit"` // max messages served by the history endpoint
	DedupeSize   int `yaml:"dedupe_size"`   // max nonces held by the dedupe cache

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw          string `yaml:"idle_timeout"`
	IdleSweepIntervalRaw    string `yaml:"idle_sweep_interval"`
	TypingCeilingRaw        string `yaml:"typing_ceiling"`
	TypingSweepIntervalRaw  string `yaml:"typing_sweep_interval"`
	ReconnectGracePeriodRaw string `yaml:"reconnect_grace_period"`
	DedupeTTLRaw            string `yaml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Chat defaults. Conservative per the product decision: half an hour of
// silence ends a session, typing indicators never outlive five seconds.
const (
	DefaultIdleTimeout          = 30 * time.Minute
	DefaultIdleSweepInterval    = time.Minute
	DefaultTypingCeiling        = 5 * time.Second
	DefaultTypingSweepInterval  = time.Second
	DefaultReconnectGracePeriod = 2 * time.Minute
	DefaultDedupeTTL            = 5 * time.Minute
	DefaultSendBuffer           = 64
	DefaultHistoryLimit         = 200
	DefaultDedupeSize           = 100_000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Chat.TypingCeiling <= 0 {
		return fmt.Errorf("chat.typing_ceiling must be positive")
	}

	if c.Chat.IdleTimeout <= 0 {
		return fmt.Errorf("chat.idle_timeout must be positive")
	}

	return nil
}

// applyDefaults fills in zero-valued chat settings
func (c *Config) applyDefaults() {
	if c.Chat.IdleTimeout == 0 {
		c.Chat.IdleTimeout = DefaultIdleTimeout
	}
	if c.Chat.IdleSweepInterval == 0 {
		c.Chat.IdleSweepInterval = DefaultIdleSweepInterval
	}
	if c.Chat.TypingCeiling == 0 {
		c.Chat.TypingCeiling = DefaultTypingCeiling
	}
	if c.Chat.TypingSweepInterval == 0 {
		c.Chat.TypingSweepInterval = DefaultTypingSweepInterval
	}
	if c.Chat.ReconnectGracePeriod == 0 {
		c.Chat.ReconnectGracePeriod = DefaultReconnectGracePeriod
	}
	if c.Chat.DedupeTTL == 0 {
		c.Chat.DedupeTTL = DefaultDedupeTTL
	}
	if c.Chat.SendBuffer == 0 {
		c.Chat.SendBuffer = DefaultSendBuffer
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = DefaultHistoryLimit
	}
	if c.Chat.DedupeSize == 0 {
		c.Chat.DedupeSize = DefaultDedupeSize
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Chat.IdleTimeoutRaw, &cfg.Chat.IdleTimeout, "idle_timeout"},
		{cfg.Chat.IdleSweepIntervalRaw, &cfg.Chat.IdleSweepInterval, "idle_sweep_interval"},
		{cfg.Chat.TypingCeilingRaw, &cfg.Chat.TypingCeiling, "typing_ceiling"},
		{cfg.Chat.TypingSweepIntervalRaw, &cfg.Chat.TypingSweepInterval, "typing_sweep_interval"},
		{cfg.Chat.ReconnectGracePeriodRaw, &cfg.Chat.ReconnectGracePeriod, "reconnect_grace_period"},
		{cfg.Chat.DedupeTTLRaw, &cfg.Chat.DedupeTTL, "dedupe_ttl"},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	return nil
}
