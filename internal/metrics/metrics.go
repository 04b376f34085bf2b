// Package metrics provides Prometheus instrumentation for the paper trader.
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

	"github.com/atmx/papertrader/internal/model"
)

var (
	// DecisionsTotal counts accepted price observations by effective action.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_decisions_total",
		Help: "Total number of price observations, by effective action",
	}, []string{"action"})

	// DowngradesTotal counts BUY/SELL signals the ledger rejected.
	DowngradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_downgrades_total",
		Help: "BUY/SELL signals downgraded to HOLD",
	}, []string{"signal"})

	// InvalidPricesTotal counts rejected price submissions.
	InvalidPricesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_invalid_prices_total",
		Help: "Price submissions rejected as invalid",
	})

	// DecisionLatency tracks how long one submission takes inside the engine.
	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "papertrader_decision_latency_seconds",
		Help:    "Decision latency in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	// Balance is the current cash balance.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrader_balance",
		Help: "Current virtual cash balance",
	})

	// Holdings is the current number of units held.
	Holdings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrader_holdings",
		Help: "Current units of the synthetic asset held",
	})

	// Resets counts portfolio resets.
	Resets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_resets_total",
		Help: "Number of portfolio resets",
	})

	// ArchiveErrors counts log entries that could not be archived.
	ArchiveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_archive_errors_total",
		Help: "Log entries that failed to reach the audit archive",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrader_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrader_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveState updates the balance and holdings gauges.
func ObserveState(v model.StateView) {
	Balance.Set(v.Balance.InexactFloat64())
	Holdings.Set(float64(v.Holdings))
}

// ObserveDecision records one engine decision and its latency.
func ObserveDecision(res model.DecisionResult, signal model.Action, elapsed time.Duration) {
	DecisionsTotal.WithLabelValues(string(res.Action)).Inc()
	if signal != res.Action {
		DowngradesTotal.WithLabelValues(string(signal)).Inc()
	}
	DecisionLatency.Observe(elapsed.Seconds())
	ObserveState(res.State.StateView)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the matched chi route for the path label to avoid
// high cardinality. Unmatched requests share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack passes through to the underlying writer so websocket upgrades work
// behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
