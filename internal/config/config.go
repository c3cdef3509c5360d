// Package config loads server configuration from an optional TOML file with
// WORKSYNC_* environment variable overrides. Environment always wins over
// the file so deployments can patch single values without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// MinSecretLen is the minimum accepted HMAC secret length in bytes.
const MinSecretLen = 32

// ServerConfig holds listener and storage settings.
type ServerConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	DatabasePath string `toml:"database_path"`
	LogLevel     string `toml:"log_level"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	Secret    string        `toml:"secret"`
	Issuer    string        `toml:"issuer"`
	Audience  string        `toml:"audience"`
	ClockSkew time.Duration `toml:"-"`
}

// LimitsConfig holds the per-IP and per-connection budgets.
type LimitsConfig struct {
	MaxConnectionsPerIP           int `toml:"max_connections_per_ip"`
	MaxSubscriptionsPerConnection int `toml:"max_subscriptions_per_connection"`
	MessagesPerSecond             int `toml:"messages_per_second"`
}

// ConflictConfig holds the merge-engine switches.
type ConflictConfig struct {
	Enabled                    bool    `toml:"enabled"`
	AllowProgressDecrease      bool    `toml:"allow_progress_decrease"`
	LargeProgressDiffThreshold float64 `toml:"large_progress_diff_threshold"`
}

// GatewayConfig holds the enforcement switches.
type GatewayConfig struct {
	BlockOnViolation bool `toml:"block_on_violation"`
	LogViolations    bool `toml:"log_violations"`
}

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Limits   LimitsConfig   `toml:"limits"`
	Conflict ConflictConfig `toml:"conflict"`
	Gateway  GatewayConfig  `toml:"gateway"`
}

// Default returns the configuration used when neither file nor environment
// sets a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			DatabasePath: "worksync.db",
			LogLevel:     "info",
		},
		Auth: AuthConfig{
			Issuer:   "worksync",
			Audience: "worksync-realtime",
		},
		Limits: LimitsConfig{
			MaxConnectionsPerIP:           10,
			MaxSubscriptionsPerConnection: 50,
			MessagesPerSecond:             20,
		},
		Conflict: ConflictConfig{
			Enabled: true,
		},
		Gateway: GatewayConfig{
			BlockOnViolation: true,
			LogViolations:    true,
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// path is non-empty), then environment overrides. The auth secret must come
// from one of the latter two and be at least MinSecretLen bytes.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c Config) Validate() error {
	if len(c.Auth.Secret) < MinSecretLen {
		return fmt.Errorf("auth secret must be at least %d bytes", MinSecretLen)
	}
	if c.Limits.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("max_connections_per_ip must be positive")
	}
	if c.Limits.MaxSubscriptionsPerConnection <= 0 {
		return fmt.Errorf("max_subscriptions_per_connection must be positive")
	}
	if c.Limits.MessagesPerSecond <= 0 {
		return fmt.Errorf("messages_per_second must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "WORKSYNC_LISTEN_ADDR")
	setString(&cfg.Server.DatabasePath, "WORKSYNC_DB_PATH")
	setString(&cfg.Server.LogLevel, "WORKSYNC_LOG_LEVEL")

	setString(&cfg.Auth.Secret, "WORKSYNC_AUTH_SECRET")
	setString(&cfg.Auth.Issuer, "WORKSYNC_AUTH_ISSUER")
	setString(&cfg.Auth.Audience, "WORKSYNC_AUTH_AUDIENCE")

	setInt(&cfg.Limits.MaxConnectionsPerIP, "WORKSYNC_MAX_CONNS_PER_IP")
	setInt(&cfg.Limits.MaxSubscriptionsPerConnection, "WORKSYNC_MAX_SUBS_PER_CONN")
	setInt(&cfg.Limits.MessagesPerSecond, "WORKSYNC_MSGS_PER_SECOND")

	setBool(&cfg.Conflict.Enabled, "WORKSYNC_CONFLICTS_ENABLED")
	setBool(&cfg.Conflict.AllowProgressDecrease, "WORKSYNC_ALLOW_PROGRESS_DECREASE")
	setFloat(&cfg.Conflict.LargeProgressDiffThreshold, "WORKSYNC_LARGE_PROGRESS_DIFF")

	setBool(&cfg.Gateway.BlockOnViolation, "WORKSYNC_BLOCK_ON_VIOLATION")
	setBool(&cfg.Gateway.LogViolations, "WORKSYNC_LOG_VIOLATIONS")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
