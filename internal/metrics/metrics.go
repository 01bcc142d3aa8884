// Package metrics provides Prometheus instrumentation for the share engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InvestmentsTotal counts share acquisitions, partitioned by event kind
	// (primary catalog purchase or secondary marketplace purchase).
	InvestmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divest_investments_total",
		Help: "Total number of share acquisitions",
	}, []string{"kind"})

	// SharesPlaced tracks cumulative shares acquired per asset.
	SharesPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divest_shares_placed_total",
		Help: "Cumulative shares acquired per asset",
	}, []string{"asset_id", "kind"})

	// CashVolume tracks cumulative cash moved by ledger operations.
	CashVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divest_cash_volume_total",
		Help: "Cumulative cash moved, in catalog currency units",
	}, []string{"op"})

	// Rejections counts operations refused by a business rule.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divest_rejections_total",
		Help: "Ledger operations rejected, by reason",
	}, []string{"reason"})

	// ListingsTotal counts marketplace listing transitions.
	ListingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divest_listings_total",
		Help: "Marketplace listing transitions, by resulting status",
	}, []string{"status"})

	// OpenListings is the number of open listings at the last listing query.
	OpenListings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "divest_open_listings",
		Help: "Number of currently open marketplace listings",
	})

	// LedgerLatency tracks ledger operation latency, including the commit.
	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "divest_ledger_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// PersistenceFailures counts store commits that failed.
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divest_persistence_failures_total",
		Help: "Ledger operations aborted by a store failure",
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "divest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "divest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveLedger records the latency of one ledger operation.
func ObserveLedger(op string, start time.Time) {
	LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the label set bounded (no account or listing IDs).
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
