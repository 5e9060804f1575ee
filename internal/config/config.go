// ABOUTME: Configuration loading and parsing for the chatline gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Database drivers
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Defaults applied by ApplyDefaults
const (
	DefaultTokenTTL       = 24 * time.Hour
	DefaultSendBuffer     = 128
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultHandlerTimeout = 10 * time.Second
	DefaultDedupeTTL      = 5 * time.Minute
	DefaultDedupeSize     = 10000
	DefaultLockTTL        = 5 * time.Second
	DefaultMongoDatabase  = "chatline"
)

// Config represents the complete gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listen addresses. GRPCAddr is optional and serves only
// the health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig selects and configures the store backend
type DatabaseConfig struct {
	Driver        string `yaml:"driver" toml:"driver"`
	Path          string `yaml:"path" toml:"path"`
	MongoURI      string `yaml:"mongo_uri" toml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database" toml:"mongo_database"`
}

// RedisConfig enables the shared pair lock when Addr is set
type RedisConfig struct {
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	LockTTL  time.Duration `yaml:"-" toml:"-"`

	LockTTLRaw string `yaml:"lock_ttl" toml:"lock_ttl"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// SessionConfig tunes realtime connections and event handling
type SessionConfig struct {
	SendBuffer     int           `yaml:"send_buffer" toml:"send_buffer"`
	DedupeSize     int           `yaml:"dedupe_size" toml:"dedupe_size"`
	WriteWait      time.Duration `yaml:"-" toml:"-"`
	PongWait       time.Duration `yaml:"-" toml:"-"`
	PingPeriod     time.Duration `yaml:"-" toml:"-"`
	HandlerTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeTTL      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WriteWaitRaw      string `yaml:"write_wait" toml:"write_wait"`
	PongWaitRaw       string `yaml:"pong_wait" toml:"pong_wait"`
	PingPeriodRaw     string `yaml:"ping_period" toml:"ping_period"`
	HandlerTimeoutRaw string `yaml:"handler_timeout" toml:"handler_timeout"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location: $CHATLINE_CONFIG, then
// $XDG_CONFIG_HOME/chatline/gateway.yaml, then ~/.config/chatline/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("CHATLINE_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatline", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "chatline", "gateway.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset timings, sizes and the database driver
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverMongo && c.Database.MongoDatabase == "" {
		c.Database.MongoDatabase = DefaultMongoDatabase
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = DefaultLockTTL
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	s := &c.Session
	if s.SendBuffer == 0 {
		s.SendBuffer = DefaultSendBuffer
	}
	if s.WriteWait == 0 {
		s.WriteWait = DefaultWriteWait
	}
	if s.PongWait == 0 {
		s.PongWait = DefaultPongWait
	}
	if s.PingPeriod == 0 {
		s.PingPeriod = s.PongWait * 9 / 10
	}
	if s.HandlerTimeout == 0 {
		s.HandlerTimeout = DefaultHandlerTimeout
	}
	if s.DedupeTTL == 0 {
		s.DedupeTTL = DefaultDedupeTTL
	}
	if s.DedupeSize == 0 {
		s.DedupeSize = DefaultDedupeSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMongo:
		if c.Database.MongoURI == "" {
			return fmt.Errorf("database.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (use %s or %s)", c.Database.Driver, DriverSQLite, DriverMongo)
	}

	if c.Session.SendBuffer < 0 || c.Session.DedupeSize < 0 {
		return fmt.Errorf("session.send_buffer and session.dedupe_size must not be negative")
	}
	if c.Session.PingPeriod >= c.Session.PongWait {
		return fmt.Errorf("session.ping_period (%s) must be shorter than session.pong_wait (%s)",
			c.Session.PingPeriod, c.Session.PongWait)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"redis.lock_ttl", cfg.Redis.LockTTLRaw, &cfg.Redis.LockTTL},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"session.write_wait", cfg.Session.WriteWaitRaw, &cfg.Session.WriteWait},
		{"session.pong_wait", cfg.Session.PongWaitRaw, &cfg.Session.PongWait},
		{"session.ping_period", cfg.Session.PingPeriodRaw, &cfg.Session.PingPeriod},
		{"session.handler_timeout", cfg.Session.HandlerTimeoutRaw, &cfg.Session.HandlerTimeout},
		{"session.dedupe_ttl", cfg.Session.DedupeTTLRaw, &cfg.Session.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
