package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aoikurokawa/zone/internal/crypto"
	"github.com/aoikurokawa/zone/internal/server"
	"github.com/aoikurokawa/zone/internal/server/handler"
	"github.com/aoikurokawa/zone/internal/server/ws"
	"github.com/aoikurokawa/zone/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP and WebSocket API. Operations are executed
// in-process by the engine; no background sweeps run.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs the settlement keeper and, when enabled, the daily archive
// job. It shares the ledger with one or more server processes.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startKeeper(ctx, g, deps); err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}
	if err := a.startArchiveJob(ctx, g, deps); err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the API, the keeper (unless keeper.enabled is false) and the
// archive job in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.RunsKeeper() {
		if err := a.startKeeper(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	} else {
		a.logger.InfoContext(ctx, "full mode: keeper disabled")
	}
	if err := a.startArchiveJob(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startKeeper loads the keeper key and schedules the settlement sweep.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.PriceCache == nil {
		return fmt.Errorf("keeper needs redis for prices")
	}
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Keeper.PrivateKey,
		EncryptedKeyPath: a.cfg.Keeper.EncryptedKeyPath,
		KeyPassword:      a.cfg.Keeper.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("load keeper key: %w", err)
	}
	identity, err := crypto.AddressFromKey(key)
	if err != nil {
		return fmt.Errorf("keeper identity: %w", err)
	}

	keeper := service.NewKeeper(
		deps.Engine,
		deps.Ledger,
		deps.PriceCache,
		deps.LockManager,
		identity,
		service.KeeperConfig{
			Interval:    a.cfg.Keeper.Interval.Duration,
			BatchSize:   a.cfg.Keeper.BatchSize,
			MaxPriceAge: a.cfg.Keeper.MaxPriceAge.Duration,
		},
		a.logger,
	).WithRecorder(deps.Metrics)

	g.Go(func() error {
		return keeper.Run(ctx)
	})
	return nil
}

// startArchiveJob schedules the daily archive when an archiver is wired.
func (a *App) startArchiveJob(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return nil
	}
	job, err := service.NewArchiveJob(deps.Archiver, a.cfg.Archive.Cron, a.logger)
	if err != nil {
		return err
	}
	job.WithRecorder(deps.Metrics)

	g.Go(func() error {
		return job.Run(ctx)
	})
	return nil
}

// startHTTPServer builds the handlers, starts the WebSocket hub and replay
// janitor, and serves until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	skew := a.cfg.Auth.MaxClockSkew.Duration
	replay := crypto.NewReplay(skew, a.cfg.Auth.ReplayTTL.Duration)
	g.Go(func() error {
		return replay.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Ops:      handler.NewOpsHandler(deps.Engine, crypto.NewDomain(a.cfg.Program.ID), replay, a.logger),
		Markets:  handler.NewMarketHandler(deps.Engine, a.logger),
		Accounts: handler.NewAccountHandler(deps.Engine, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
		Metrics:  deps.Metrics.Handler(),
	}
	if deps.PriceCache != nil {
		feed := crypto.FeedAuth{Key: a.cfg.Feed.Key, Secret: a.cfg.Feed.Secret}
		handlers.Prices = handler.NewPriceHandler(deps.PriceCache, feed, skew, a.logger)
	}
	if deps.SignalBus != nil {
		handlers.Events = handler.NewEventHandler(deps.SignalBus, a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			Mode:           a.cfg.Mode,
		}, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
