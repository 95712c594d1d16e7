package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aoikurokawa/zone/internal/domain"
	"github.com/aoikurokawa/zone/internal/server/handler"
	"github.com/aoikurokawa/zone/internal/server/middleware"
	"github.com/aoikurokawa/zone/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards operator routes; empty rejects them
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Prices, Events,
// Audit, Archive and Metrics may be nil when their backends are not
// configured.
type Handlers struct {
	Health   *handler.HealthHandler
	Ops      *handler.OpsHandler
	Markets  *handler.MarketHandler
	Accounts *handler.AccountHandler
	Prices   *handler.PriceHandler
	Events   *handler.EventHandler
	Audit    *handler.AuditHandler
	Archive  *handler.ArchiveHandler
	Metrics  http.Handler
}

// Server is the HTTP + WebSocket API for the zone ledger.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain.
// limiter and obs may be nil.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	limiter domain.RateLimiter,
	obs middleware.RequestObserver,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()
	operator := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/ops", handlers.Ops.Submit)

	mux.HandleFunc("GET /api/vault", handlers.Accounts.GetVault)
	mux.HandleFunc("GET /api/wallets/{address}", handlers.Accounts.GetBalance)

	mux.HandleFunc("GET /api/markets/{asset}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{asset}/predictions", handlers.Markets.ListPredictions)
	mux.HandleFunc("GET /api/markets/{asset}/predictions/{user}", handlers.Markets.GetPrediction)

	// Prices and events live in Redis.
	if handlers.Prices != nil {
		mux.HandleFunc("GET /api/prices/{asset}", handlers.Prices.GetPrice)
		mux.HandleFunc("PUT /api/prices/{asset}", handlers.Prices.SetPrice)
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	}

	if handlers.Audit != nil {
		mux.Handle("GET /api/audit", operator(http.HandlerFunc(handlers.Audit.ListAudit)))
	}
	if handlers.Archive != nil {
		mux.Handle("GET /api/archive", operator(http.HandlerFunc(handlers.Archive.ListArchive)))
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger, obs)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests to complete within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
