package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aoikurokawa/zone/internal/address"
	"github.com/aoikurokawa/zone/internal/clock"
	"github.com/aoikurokawa/zone/internal/crypto"
	"github.com/aoikurokawa/zone/internal/ledger/memory"
	"github.com/aoikurokawa/zone/internal/server/handler"
	"github.com/aoikurokawa/zone/internal/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := service.NewEngine(
		memory.New(nil),
		address.NewDeriver("zone-test"),
		clock.NewManual(100_000),
		service.EngineConfig{},
		logger,
	)
	handlers := Handlers{
		Health:   handler.NewHealthHandler("server", nil, logger),
		Ops:      handler.NewOpsHandler(engine, crypto.NewDomain("zone-test"), crypto.NewReplay(30*time.Second, time.Minute), logger),
		Markets:  handler.NewMarketHandler(engine, logger),
		Accounts: handler.NewAccountHandler(engine, logger),
		Audit:    handler.NewAuditHandler(memory.NewAuditStore(), logger),
	}
	return NewServer(Config{Port: 0, APIKey: "operator"}, handlers, nil, nil, nil, logger)
}

func TestServer_Routes(t *testing.T) {
	h := newTestServer(t).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		status int
	}{
		{"health", http.MethodGet, "/api/health", "", http.StatusOK},
		{"vault before init", http.MethodGet, "/api/vault", "", http.StatusNotFound},
		{"bad wallet", http.MethodGet, "/api/wallets/nope", "", http.StatusBadRequest},
		{"audit without key", http.MethodGet, "/api/audit", "", http.StatusUnauthorized},
		{"audit with key", http.MethodGet, "/api/audit", "operator", http.StatusOK},
		{"ops wrong method", http.MethodGet, "/api/ops", "", http.StatusMethodNotAllowed},
		// Optional backends left out are not routed.
		{"prices unrouted", http.MethodGet, "/api/prices/BTC", "", http.StatusNotFound},
		{"events unrouted", http.MethodGet, "/api/events", "", http.StatusNotFound},
		{"archive unrouted", http.MethodGet, "/api/archive", "operator", http.StatusNotFound},
		{"metrics unrouted", http.MethodGet, "/metrics", "", http.StatusNotFound},
		{"ws unrouted", http.MethodGet, "/ws", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				r.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
