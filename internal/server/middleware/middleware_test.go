package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header map[string]string
		status int
	}{
		{"no key configured", "", map[string]string{"X-API-Key": "anything"}, http.StatusUnauthorized},
		{"missing token", "k", nil, http.StatusUnauthorized},
		{"wrong token", "k", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer", "k", map[string]string{"Authorization": "Bearer k"}, http.StatusOK},
		{"bearer lower case", "k", map[string]string{"Authorization": "bearer k"}, http.StatusOK},
		{"api key header", "k", map[string]string{"X-API-Key": "k"}, http.StatusOK},
		{"basic is ignored", "k", map[string]string{"Authorization": "Basic k"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			w := serve(Auth(tt.key)(okHandler), r)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), `"error"`)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/api/ops", nil)
	r.Header.Set("Origin", "https://app.example")
	w := serve(h, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "ZONE-FEED-SIGNATURE")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")

	r = httptest.NewRequest(http.MethodGet, "/api/vault", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = serve(h, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(CORS(nil)(okHandler), r)
	assert.Equal(t, "https://evil.example", w.Header().Get("Access-Control-Allow-Origin"))
}

type observed struct {
	method, route string
	status        int
}

type fakeObserver struct {
	mu   sync.Mutex
	seen []observed
}

func (o *fakeObserver) HTTPRequest(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observed{method, route, status})
}

func TestLogging_ReportsRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{asset}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	obs := &fakeObserver{}
	h := Logging(quietLogger(), obs)(mux)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/markets/BTC", nil))
	serve(h, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Len(t, obs.seen, 2)
	assert.Equal(t, observed{"GET", "GET /api/markets/{asset}", http.StatusNotFound}, obs.seen[0])
	assert.Equal(t, "unmatched", obs.seen[1].route)

	// A nil observer only logs.
	w := serve(Logging(quietLogger(), nil)(mux), httptest.NewRequest(http.MethodGet, "/api/markets/ETH", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (l *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &fakeLimiter{counts: map[string]int{}}
	h := RateLimit(limiter, 2, 30*time.Second, quietLogger())(okHandler)

	req := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/vault", nil)
		r.RemoteAddr = ip + ":5555"
		return r
	}

	assert.Equal(t, http.StatusOK, serve(h, req("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, req("10.0.0.1")).Code)
	w := serve(h, req("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, serve(h, req("10.0.0.2")).Code)
	assert.Equal(t, 3, limiter.counts["api:10.0.0.1"])

	limiter.err = errors.New("redis down")
	assert.Equal(t, http.StatusOK, serve(h, req("10.0.0.1")).Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
