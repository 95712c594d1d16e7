package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aoikurokawa/zone/internal/address"
	s3blob "github.com/aoikurokawa/zone/internal/blob/s3"
	"github.com/aoikurokawa/zone/internal/cache/redis"
	"github.com/aoikurokawa/zone/internal/clock"
	"github.com/aoikurokawa/zone/internal/config"
	"github.com/aoikurokawa/zone/internal/domain"
	"github.com/aoikurokawa/zone/internal/ledger/memory"
	"github.com/aoikurokawa/zone/internal/metrics"
	"github.com/aoikurokawa/zone/internal/notify"
	"github.com/aoikurokawa/zone/internal/server/handler"
	"github.com/aoikurokawa/zone/internal/service"
	"github.com/aoikurokawa/zone/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger     domain.Ledger
	AuditStore domain.AuditStore
	Engine     *service.Engine

	// Redis-backed; nil when redis.enabled is false.
	PriceCache  domain.PriceCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// S3-backed; nil unless the archive is enabled.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks probes every external backend for /api/health.
	Checks map[string]handler.Check
}

// seeder creates genesis accounts. Both ledger backends implement it.
type seeder interface {
	Seed(ctx context.Context, balances map[common.Address]uint64) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	genesis, err := genesisBalances(cfg.Ledger.Genesis)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- Ledger ---
	var seed seeder
	switch cfg.Ledger.Driver {
	case "memory":
		ledger := memory.New(nil)
		deps.Ledger = ledger
		deps.AuditStore = memory.NewAuditStore()
		seed = ledger
		logger.WarnContext(ctx, "wire: using in-memory ledger; state is lost on exit")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:         cfg.Postgres.DSN,
			Host:        cfg.Postgres.Host,
			Port:        cfg.Postgres.Port,
			Database:    cfg.Postgres.Database,
			User:        cfg.Postgres.User,
			Password:    cfg.Postgres.Password,
			SSLMode:     cfg.Postgres.SSLMode,
			MaxConns:    cfg.Postgres.PoolMaxConns,
			MinConns:    cfg.Postgres.PoolMinConns,
			LockTimeout: cfg.Postgres.LockTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		ledger := pgClient.Ledger()
		deps.Ledger = ledger
		deps.AuditStore = pgClient.AuditStore()
		deps.Checks["postgres"] = pgClient.Ping
		seed = ledger
	}

	if len(genesis) > 0 {
		if err := seed.Seed(ctx, genesis); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: seed genesis: %w", err)
		}
		logger.InfoContext(ctx, "wire: genesis accounts seeded", slog.Int("accounts", len(genesis)))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			reader,
			deps.Ledger,
			deps.AuditStore,
			logger.With(slog.String("component", "archiver")),
		)
		deps.Checks["s3"] = s3Client.Health
		logger.InfoContext(ctx, "archive enabled",
			slog.String("bucket", s3Client.Bucket()),
			slog.String("cron", cfg.Archive.Cron),
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	engine := service.NewEngine(
		deps.Ledger,
		address.NewDeriver(cfg.Program.ID),
		clock.System{},
		service.EngineConfig{
			AllowRestart:           cfg.Lifecycle.AllowRestart,
			RestrictMarketCreation: cfg.Lifecycle.RestrictMarketCreation,
		},
		logger,
	).WithAuditStore(deps.AuditStore).WithRecorder(deps.Metrics)
	if deps.SignalBus != nil {
		engine.WithSignalBus(deps.SignalBus)
	}
	if deps.MarketCache != nil {
		engine.WithMarketCache(deps.MarketCache)
	}
	if deps.Notifier.Enabled() {
		engine.WithNotifier(deps.Notifier)
	}
	deps.Engine = engine

	return deps, cleanup, nil
}

// genesisBalances parses the configured genesis accounts.
func genesisBalances(in map[string]uint64) (map[common.Address]uint64, error) {
	out := make(map[common.Address]uint64, len(in))
	for addr, bal := range in {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("genesis address %q is not a hex address", addr)
		}
		out[common.HexToAddress(addr)] += bal
	}
	return out, nil
}
