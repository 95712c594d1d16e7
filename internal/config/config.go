// Package config defines the top-level configuration for the zone ledger
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ZONE_* environment variables.
type Config struct {
	Program   ProgramConfig   `toml:"program"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Auth      AuthConfig      `toml:"auth"`
	Keeper    KeeperConfig    `toml:"keeper"`
	Archive   ArchiveConfig   `toml:"archive"`
	Feed      FeedConfig      `toml:"feed"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ProgramConfig identifies the deployment. The id seeds every derived
// account address and the signing domain, so changing it orphans existing
// records.
type ProgramConfig struct {
	ID string `toml:"id"`
}

// LedgerConfig selects the ledger backend.
type LedgerConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `toml:"driver"`
	// Genesis credits balances at startup. The memory ledger needs it to have
	// any funds at all; on postgres it is applied once per address.
	Genesis map[string]uint64 `toml:"genesis"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	LockTimeout   duration `toml:"lock_timeout"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	MarketTTL    duration `toml:"market_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LifecycleConfig holds the market lifecycle policies.
type LifecycleConfig struct {
	AllowRestart           bool `toml:"allow_restart"`
	RestrictMarketCreation bool `toml:"restrict_market_creation"`
}

// AuthConfig bounds envelope freshness.
type AuthConfig struct {
	MaxClockSkew duration `toml:"max_clock_skew"`
	ReplayTTL    duration `toml:"replay_ttl"`
}

// KeeperConfig holds the settlement keeper parameters and its signing key.
type KeeperConfig struct {
	Enabled          bool     `toml:"enabled"`
	Interval         duration `toml:"interval"`
	BatchSize        int      `toml:"batch_size"`
	MaxPriceAge      duration `toml:"max_price_age"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
}

// ArchiveConfig schedules the daily S3 archive.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
}

// FeedConfig holds the shared credentials of the price publisher.
type FeedConfig struct {
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the operator endpoints (audit, archive).
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Program: ProgramConfig{ID: "zone"},
		Ledger: LedgerConfig{
			Driver:  "postgres",
			Genesis: map[string]uint64{},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "zone",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			LockTimeout:   duration{2 * time.Second},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			MarketTTL:    duration{time.Minute},
			StreamMaxLen: 100_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "zone-archive",
			ForcePathStyle: true,
		},
		Lifecycle: LifecycleConfig{
			AllowRestart:           false,
			RestrictMarketCreation: true,
		},
		Auth: AuthConfig{
			MaxClockSkew: duration{30 * time.Second},
			ReplayTTL:    duration{2 * time.Minute},
		},
		Keeper: KeeperConfig{
			Enabled:     true,
			Interval:    duration{30 * time.Second},
			BatchSize:   100,
			MaxPriceAge: duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "15 0 * * *",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_started", "prediction_settled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsKeeper reports whether the mode starts the settlement keeper.
func (c *Config) RunsKeeper() bool {
	m := strings.ToLower(c.Mode)
	return m == "keeper" || (m == "full" && c.Keeper.Enabled)
}

// RunsServer reports whether the mode starts the HTTP API.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Program.ID) == "" {
		errs = append(errs, "program: id must not be empty")
	}

	// Ledger
	switch c.Ledger.Driver {
	case "memory":
		if c.Mode == "keeper" {
			errs = append(errs, "ledger: the memory driver cannot be shared with a separate keeper process")
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown driver %q (valid: memory, postgres)", c.Ledger.Driver))
	}
	for addr := range c.Ledger.Genesis {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("ledger: genesis address %q is not a hex address", addr))
		}
	}

	// Postgres
	if c.Ledger.Driver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Postgres.LockTimeout.Duration < 0 {
			errs = append(errs, "postgres: lock_timeout must not be negative")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if c.RunsKeeper() {
		errs = append(errs, "redis: the keeper reads prices from redis, so redis.enabled must be true")
	}

	// Auth
	if c.Auth.MaxClockSkew.Duration <= 0 {
		errs = append(errs, "auth: max_clock_skew must be > 0")
	}

	// Keeper
	if c.RunsKeeper() {
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be > 0")
		}
		if c.Keeper.BatchSize < 1 {
			errs = append(errs, "keeper: batch_size must be >= 1")
		}
		if c.Keeper.MaxPriceAge.Duration <= 0 {
			errs = append(errs, "keeper: max_price_age must be > 0")
		}
		if c.Keeper.PrivateKey == "" && c.Keeper.EncryptedKeyPath == "" {
			errs = append(errs, "keeper: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Keeper.EncryptedKeyPath != "" && c.Keeper.KeyPassword == "" {
			errs = append(errs, "keeper: key_password is required when encrypted_key_path is set")
		}
	}

	// Archive
	if c.Archive.Enabled {
		// Field syntax is checked when the job is built.
		if n := len(strings.Fields(c.Archive.Cron)); n != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %d", n))
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Feed: both or neither.
	if (c.Feed.Key == "") != (c.Feed.Secret == "") {
		errs = append(errs, "feed: key and secret must be set together")
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
