// Package config defines the top-level configuration for the settlement
// engine daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SETTLE_* environment
// variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Oracle     OracleConfig     `toml:"oracle"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Governance GovernanceConfig `toml:"governance"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds the engine policy knobs. Zero values fall back to
// the engine defaults.
type EngineConfig struct {
	MaxOutcomes          int     `toml:"max_outcomes"`
	MaxPushPayoutWinners int     `toml:"max_push_payout_winners"`
	CreationDeposit      float64 `toml:"creation_deposit"`
	VotingWindowHours    int     `toml:"voting_window_hours"`
	PruneGraceDays       int     `toml:"prune_grace_days"`
	SweepIntervalSeconds int     `toml:"sweep_interval_seconds"`
}

// VotingWindow returns the configured voting window duration.
func (c EngineConfig) VotingWindow() time.Duration {
	return time.Duration(c.VotingWindowHours) * time.Hour
}

// PruneGrace returns the configured prune grace period.
func (c EngineConfig) PruneGrace() time.Duration {
	return time.Duration(c.PruneGraceDays) * 24 * time.Hour
}

// SweepInterval returns the lifecycle sweeper interval.
func (c EngineConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// OracleConfig holds the price-service endpoint used for resolution.
type OracleConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object-storage parameters for the prune archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds the HTTP/WebSocket API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminKey authenticates the privileged endpoints (cancel, prune,
	// manual resolution, ledger deposits). Empty disables them.
	AdminKey string `toml:"admin_key"`
}

// GovernanceConfig holds the static admin set and initial breaker state.
type GovernanceConfig struct {
	Admins        []string `toml:"admins"`
	InitialFreeze string   `toml:"initial_freeze"` // "closed" | "partial_freeze" | "full_freeze"
}

// Defaults returns a Config with sane development defaults.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MaxOutcomes:          100,
			MaxPushPayoutWinners: 50,
			CreationDeposit:      100,
			VotingWindowHours:    48,
			PruneGraceDays:       30,
			SweepIntervalSeconds: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "settle",
			User:          "settle",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "archives",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Governance: GovernanceConfig{
			InitialFreeze: "closed",
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface later at runtime.
func (c *Config) Validate() error {
	if c.Engine.MaxOutcomes < 2 {
		return fmt.Errorf("config: engine.max_outcomes must be at least 2, got %d", c.Engine.MaxOutcomes)
	}
	if c.Engine.MaxPushPayoutWinners < 1 {
		return fmt.Errorf("config: engine.max_push_payout_winners must be positive, got %d", c.Engine.MaxPushPayoutWinners)
	}
	if c.Engine.CreationDeposit < 0 {
		return fmt.Errorf("config: engine.creation_deposit must not be negative")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && strings.TrimSpace(c.Postgres.Host) == "" {
			return fmt.Errorf("config: postgres enabled but neither dsn nor host is set")
		}
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("config: redis enabled but addr is empty")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("config: s3 enabled but bucket is empty")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("config: s3 enabled but region is empty")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}

	switch c.Governance.InitialFreeze {
	case "", "closed", "partial_freeze", "full_freeze":
	default:
		return fmt.Errorf("config: governance.initial_freeze %q is not one of closed, partial_freeze, full_freeze", c.Governance.InitialFreeze)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	return nil
}
