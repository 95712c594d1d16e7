package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler reports liveness plus the state of each registered
// dependency.
type HealthHandler struct {
	checks  map[string]Check
	mode    string
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler for the given run mode.
func NewHealthHandler(mode string, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		mode:    mode,
		started: time.Now().UTC(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Mode      string            `json:"mode"`
	Uptime    int64             `json:"uptime_seconds"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck runs every check with a short deadline. Any failing check
// turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
		healthy = true
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := "ok"
			if err := check(ctx); err != nil {
				res = err.Error()
				h.logger.WarnContext(ctx, "handler: health check failed",
					slog.String("check", name),
					slog.String("error", err.Error()),
				)
			}
			mu.Lock()
			results[name] = res
			if res != "ok" {
				healthy = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	resp := healthResponse{
		Status:    "ok",
		Mode:      h.mode,
		Uptime:    int64(time.Since(h.started).Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
