// ABOUTME: Configuration loading and parsing for parley-server
// ABOUTME: YAML file with environment variable expansion, env overrides, and fail-fast validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config represents the complete parley-server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Hub      HubConfig      `yaml:"hub"`
	Logging  LoggingConfig  `yaml:"logging"`
	Env      string         `yaml:"env"`
}

// ServerConfig holds the listen configuration
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// URL is a SQLite file path or ":memory:"
	URL string `yaml:"url"`
}

// AuthConfig holds token configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	AccessTTL  time.Duration `yaml:"-"`
	RefreshTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AccessTTLRaw  string `yaml:"access_ttl"`
	RefreshTTLRaw string `yaml:"refresh_ttl"`
}

// HubConfig holds connection hub timing configuration
type HubConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	AuthTimeout       time.Duration `yaml:"-"`
	TypingTimeout     time.Duration `yaml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	AuthTimeoutRaw       string `yaml:"auth_timeout"`
	TypingTimeoutRaw     string `yaml:"typing_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default timings. Only the four environment options (PORT, DATABASE_URL,
// JWT_SECRET, NODE_ENV) are recognized from the environment; timings come
// from the YAML file or these defaults.
const (
	DefaultPort              = 3000
	DefaultAccessTTL         = 15 * time.Minute
	DefaultRefreshTTL        = 7 * 24 * time.Hour
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultAuthTimeout       = 5 * time.Second
	DefaultTypingTimeout     = 5 * time.Second
)

// Load reads the optional YAML file at path, applies environment overrides,
// fills defaults, and validates. An empty path skips the file and builds the
// configuration from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw YAML content
		expanded := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overrides file values with the recognized environment options.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		c.Env = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL)")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET)")
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values,
// falling back to defaults where unset.
func (c *Config) parseDurations() error {
	var err error

	if c.Auth.AccessTTL, err = durationOr(c.Auth.AccessTTLRaw, DefaultAccessTTL); err != nil {
		return fmt.Errorf("parsing access_ttl %q: %w", c.Auth.AccessTTLRaw, err)
	}
	if c.Auth.RefreshTTL, err = durationOr(c.Auth.RefreshTTLRaw, DefaultRefreshTTL); err != nil {
		return fmt.Errorf("parsing refresh_ttl %q: %w", c.Auth.RefreshTTLRaw, err)
	}
	if c.Hub.HeartbeatInterval, err = durationOr(c.Hub.HeartbeatIntervalRaw, DefaultHeartbeatInterval); err != nil {
		return fmt.Errorf("parsing heartbeat_interval %q: %w", c.Hub.HeartbeatIntervalRaw, err)
	}
	if c.Hub.AuthTimeout, err = durationOr(c.Hub.AuthTimeoutRaw, DefaultAuthTimeout); err != nil {
		return fmt.Errorf("parsing auth_timeout %q: %w", c.Hub.AuthTimeoutRaw, err)
	}
	if c.Hub.TypingTimeout, err = durationOr(c.Hub.TypingTimeoutRaw, DefaultTypingTimeout); err != nil {
		return fmt.Errorf("parsing typing_timeout %q: %w", c.Hub.TypingTimeoutRaw, err)
	}

	return nil
}

func durationOr(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
