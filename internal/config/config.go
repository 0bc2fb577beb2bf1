// ABOUTME: Configuration loading and parsing for parley-server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parley-server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Messaging MessagingConfig `yaml:"messaging"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
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

	SessionLifetime    time.Duration `yaml:"-"`
	SessionLifetimeRaw string        `yaml:"session_lifetime"`
}

// MessagingConfig holds message lifecycle timing and rate configuration
type MessagingConfig struct {
	EditWindow       time.Duration `yaml:"-"`
	SnapshotInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	EditWindowRaw       string `yaml:"edit_window"`
	SnapshotIntervalRaw string `yaml:"snapshot_interval"`

	// SendRate is the per-user sustained message rate per second;
	// SendBurst is the short-term allowance. Zero disables limiting.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

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

	if c.Messaging.SendRate < 0 {
		return fmt.Errorf("messaging.send_rate must not be negative")
	}
	if c.Messaging.SendBurst < 0 {
		return fmt.Errorf("messaging.send_burst must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionLifetimeRaw != "" {
		cfg.Auth.SessionLifetime, err = time.ParseDuration(cfg.Auth.SessionLifetimeRaw)
		if err != nil {
			return fmt.Errorf("parsing session_lifetime %q: %w", cfg.Auth.SessionLifetimeRaw, err)
		}
	}

	if cfg.Messaging.EditWindowRaw != "" {
		cfg.Messaging.EditWindow, err = time.ParseDuration(cfg.Messaging.EditWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing edit_window %q: %w", cfg.Messaging.EditWindowRaw, err)
		}
	}

	if cfg.Messaging.SnapshotIntervalRaw != "" {
		cfg.Messaging.SnapshotInterval, err = time.ParseDuration(cfg.Messaging.SnapshotIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing snapshot_interval %q: %w", cfg.Messaging.SnapshotIntervalRaw, err)
		}
	}

	return nil
}
