// ABOUTME: Configuration loading and parsing for fieldnet-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing and defaults

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

// Default timing values for the presence network.
const (
	DefaultOnlineWindow   = 5 * time.Minute
	DefaultRecentWindow   = 2 * time.Minute
	DefaultConflictWindow = 10 * time.Minute
	DefaultMessageWindow  = 60 * time.Minute
	DefaultPollInterval   = 30 * time.Second
	DefaultIdempotencyTTL = 10 * time.Minute
	DefaultQueryTimeout   = 5 * time.Second
	DefaultTokenTTL       = 24 * time.Hour
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3  = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverPostgres = "postgres"
)

// Config represents the complete fieldnet-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Network   NetworkConfig   `yaml:"network" toml:"network"`
	Harmony   HarmonyConfig   `yaml:"harmony" toml:"harmony"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// DatabaseConfig selects the persistence driver and its location.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"` // sqlite file path
	DSN    string `yaml:"dsn" toml:"dsn"`   // postgres connection string

	QueryTimeout    time.Duration `yaml:"-" toml:"-"`
	QueryTimeoutRaw string        `yaml:"query_timeout" toml:"query_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// NetworkConfig holds the liveness, identity and aggregation windows.
type NetworkConfig struct {
	// Platform is the tag recorded in each agent's session info.
	Platform string `yaml:"platform" toml:"platform"`

	OnlineWindow   time.Duration `yaml:"-" toml:"-"`
	RecentWindow   time.Duration `yaml:"-" toml:"-"`
	ConflictWindow time.Duration `yaml:"-" toml:"-"`
	MessageWindow  time.Duration `yaml:"-" toml:"-"`
	PollInterval   time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	OnlineWindowRaw   string `yaml:"online_window" toml:"online_window"`
	RecentWindowRaw   string `yaml:"recent_window" toml:"recent_window"`
	ConflictWindowRaw string `yaml:"conflict_window" toml:"conflict_window"`
	MessageWindowRaw  string `yaml:"message_window" toml:"message_window"`
	PollIntervalRaw   string `yaml:"poll_interval" toml:"poll_interval"`
	IdempotencyTTLRaw string `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// HarmonyConfig points at an optional keyword table override file.
type HarmonyConfig struct {
	TablesPath string `yaml:"tables_path" toml:"tables_path"`
	Watch      bool   `yaml:"watch" toml:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration suitable for local use with a sqlite file at dbPath.
func Default(dbPath string) *Config {
	cfg := &Config{
		Server: ServerConfig{
			GRPCAddr: "127.0.0.1:50051",
			HTTPAddr: "127.0.0.1:8080",
		},
		Database: DatabaseConfig{Driver: DriverSQLite, Path: dbPath},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
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

	switch c.Database.Driver {
	case DriverSQLite, DriverSQLite3:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (sqlite, sqlite3, postgres)", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Network.RecentWindow >= c.Network.OnlineWindow {
		return fmt.Errorf("network.recent_window (%s) must be shorter than network.online_window (%s)",
			c.Network.RecentWindow, c.Network.OnlineWindow)
	}

	return nil
}

// HeartbeatInterval is the recommended heartbeat period: one sixth of the liveness window.
func (n NetworkConfig) HeartbeatInterval() time.Duration {
	return n.OnlineWindow / 6
}

// applyDefaults fills zero values with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	setDefault(&cfg.Database.QueryTimeout, DefaultQueryTimeout)
	setDefault(&cfg.Auth.TokenTTL, DefaultTokenTTL)

	n := &cfg.Network
	setDefault(&n.OnlineWindow, DefaultOnlineWindow)
	setDefault(&n.RecentWindow, DefaultRecentWindow)
	setDefault(&n.ConflictWindow, DefaultConflictWindow)
	setDefault(&n.MessageWindow, DefaultMessageWindow)
	setDefault(&n.PollInterval, DefaultPollInterval)
	setDefault(&n.IdempotencyTTL, DefaultIdempotencyTTL)
	if n.Platform == "" {
		n.Platform = "fieldnet"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d == 0 {
		*d = v
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.query_timeout", cfg.Database.QueryTimeoutRaw, &cfg.Database.QueryTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"network.online_window", cfg.Network.OnlineWindowRaw, &cfg.Network.OnlineWindow},
		{"network.recent_window", cfg.Network.RecentWindowRaw, &cfg.Network.RecentWindow},
		{"network.conflict_window", cfg.Network.ConflictWindowRaw, &cfg.Network.ConflictWindow},
		{"network.message_window", cfg.Network.MessageWindowRaw, &cfg.Network.MessageWindow},
		{"network.poll_interval", cfg.Network.PollIntervalRaw, &cfg.Network.PollInterval},
		{"network.idempotency_ttl", cfg.Network.IdempotencyTTLRaw, &cfg.Network.IdempotencyTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
