// Package config defines the top-level configuration for the deedmarket
// exchange service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DEEDMARKET_* environment
// variables.
type Config struct {
	Admin    AdminConfig    `toml:"admin"`
	Vault    VaultConfig    `toml:"vault"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AdminConfig names the designated administrator identity. Every
// administrator-gated operation compares the caller against this address.
type AdminConfig struct {
	Address string `toml:"address"`
}

// VaultConfig holds the capability vault's derivation seed and the password
// protecting the delegated key at rest.
type VaultConfig struct {
	Seed        string `toml:"seed"`
	KeyPassword string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the event
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketConfig holds marketplace parameters.
type MarketConfig struct {
	// PlatformFee is the fixed charge, in settlement units, debited from the
	// seller at listing time and from the buyer at purchase time.
	PlatformFee uint64 `toml:"platform_fee"`

	// LockTTLSeconds bounds how long one operation may hold a per-item lock
	// before it expires.
	LockTTLSeconds int `toml:"lock_ttl_seconds"`

	// RateLimitPerMinute caps mutating calls per caller. Zero disables rate
	// limiting.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// ArchiveConfig controls the event-log archiver.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
	IntervalHours int  `toml:"interval_hours"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns the built-in configuration, suitable for a local
// single-node deployment.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "deedmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "deedmarket-archive",
			ForcePathStyle: true,
		},
		Market: MarketConfig{
			PlatformFee:        5,
			LockTTLSeconds:     10,
			RateLimitPerMinute: 120,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			IntervalHours: 24,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for consistency and returns an error
// describing every violation found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Admin.Address == "" {
		errs = append(errs, "admin: address must not be empty")
	}
	if c.Vault.Seed == "" {
		errs = append(errs, "vault: seed must not be empty")
	}
	if c.Vault.KeyPassword == "" {
		errs = append(errs, "vault: key_password must not be empty")
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		errs = append(errs, "postgres: either dsn or host/database/user must be set")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Market.PlatformFee == 0 {
		errs = append(errs, "market: platform_fee must be positive")
	}
	if c.Market.LockTTLSeconds <= 0 {
		errs = append(errs, "market: lock_ttl_seconds must be positive")
	}

	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be positive")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LockTTL returns the per-item lock TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Market.LockTTLSeconds) * time.Second
}
