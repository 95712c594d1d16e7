// Package metrics exposes operation, keeper, archive and HTTP counters in
// the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aoikurokawa/zone/internal/domain"
)

const namespace = "zone"

// Metrics owns a private registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	payouts       *prometheus.CounterVec
	keeperSweeps  *prometheus.CounterVec
	keeperSettled prometheus.Counter
	archived      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations executed, by kind and result code.",
		}, []string{"kind", "code"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settled predictions, by asset and outcome.",
		}, []string{"asset_id", "outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_units_total",
			Help:      "Units paid from the vault to winners, by asset.",
		}, []string{"asset_id"}),
		keeperSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "sweeps_total",
			Help:      "Keeper sweeps, by result.",
		}, []string{"result"}),
		keeperSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "settled_total",
			Help:      "Predictions settled by the keeper.",
		}),
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "records_total",
			Help:      "Records written to the archive, by kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.settlements,
		m.payouts,
		m.keeperSweeps,
		m.keeperSettled,
		m.archived,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Operation counts one executed operation. Successful operations carry the
// code "ok".
func (m *Metrics) Operation(kind domain.OpKind, err error) {
	code := "ok"
	if err != nil {
		code = domain.CodeOf(err)
	}
	m.operations.WithLabelValues(string(kind), code).Inc()
}

// Settlement counts a settled prediction and its payout.
func (m *Metrics) Settlement(assetID string, won bool, payout uint64) {
	outcome := "lost"
	if won {
		outcome = "won"
		m.payouts.WithLabelValues(assetID).Add(float64(payout))
	}
	m.settlements.WithLabelValues(assetID, outcome).Inc()
}

// KeeperSweep counts one keeper pass. A nil err with settled == 0 still
// counts as ok.
func (m *Metrics) KeeperSweep(settled int, err error) {
	if err != nil {
		m.keeperSweeps.WithLabelValues("error").Inc()
		return
	}
	m.keeperSweeps.WithLabelValues("ok").Inc()
	m.keeperSettled.Add(float64(settled))
}

// Archived counts records written for kind.
func (m *Metrics) Archived(kind string, n int64) {
	m.archived.WithLabelValues(kind).Add(float64(n))
}

// HTTPRequest records one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
