package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ZONE_* environment variable overrides, and
// returns the final Config. A missing file is not an error, so a deployment
// can be configured from the environment alone. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ZONE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Program / ledger ──
	setStr(&cfg.Program.ID, "ZONE_PROGRAM_ID")
	setStr(&cfg.Ledger.Driver, "ZONE_LEDGER_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ZONE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ZONE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ZONE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ZONE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ZONE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ZONE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ZONE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ZONE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ZONE_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.LockTimeout, "ZONE_POSTGRES_LOCK_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "ZONE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ZONE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ZONE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ZONE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ZONE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ZONE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ZONE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ZONE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MarketTTL, "ZONE_REDIS_MARKET_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ZONE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ZONE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ZONE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ZONE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ZONE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ZONE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ZONE_S3_FORCE_PATH_STYLE")

	// ── Lifecycle / auth ──
	setBool(&cfg.Lifecycle.AllowRestart, "ZONE_LIFECYCLE_ALLOW_RESTART")
	setBool(&cfg.Lifecycle.RestrictMarketCreation, "ZONE_LIFECYCLE_RESTRICT_MARKET_CREATION")
	setDuration(&cfg.Auth.MaxClockSkew, "ZONE_AUTH_MAX_CLOCK_SKEW")
	setDuration(&cfg.Auth.ReplayTTL, "ZONE_AUTH_REPLAY_TTL")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "ZONE_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "ZONE_KEEPER_INTERVAL")
	setInt(&cfg.Keeper.BatchSize, "ZONE_KEEPER_BATCH_SIZE")
	setDuration(&cfg.Keeper.MaxPriceAge, "ZONE_KEEPER_MAX_PRICE_AGE")
	setStr(&cfg.Keeper.PrivateKey, "ZONE_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.EncryptedKeyPath, "ZONE_KEEPER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keeper.KeyPassword, "ZONE_KEEPER_KEY_PASSWORD")

	// ── Archive / feed ──
	setBool(&cfg.Archive.Enabled, "ZONE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ZONE_ARCHIVE_CRON")
	setStr(&cfg.Feed.Key, "ZONE_FEED_KEY")
	setStr(&cfg.Feed.Secret, "ZONE_FEED_SECRET")

	// ── Server ──
	setInt(&cfg.Server.Port, "ZONE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ZONE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ZONE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ZONE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ZONE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ZONE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ZONE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ZONE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ZONE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ZONE_MODE")
	setStr(&cfg.LogLevel, "ZONE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
