// Package metrics provides Prometheus instrumentation for the risk gate.
// Labels never carry user IDs or tickers to keep cardinality bounded.
package metrics

import (
	"bufio"
	"fmt"
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
	// GateDecisions counts gate evaluations by action and reason code.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgate_gate_decisions_total",
		Help: "Gate evaluations by intended action and reason code",
	}, []string{"action", "reason"})

	// GateErrors counts evaluations that failed before a decision was made.
	GateErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskgate_gate_errors_total",
		Help: "Gate evaluations aborted by storage or state errors",
	})

	// GateLatency tracks evaluation latency including the day-row transaction.
	GateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskgate_gate_latency_seconds",
		Help:    "Gate evaluation latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"action"})

	// KillStateEscalations counts committed kill-state raises by new level.
	KillStateEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgate_kill_state_escalations_total",
		Help: "Committed kill-state escalations by level",
	}, []string{"level"})

	// SpendReserved accumulates notional committed through reservations.
	SpendReserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskgate_spend_reserved_total",
		Help: "Notional committed to daily spend by reservations",
	})

	// Assessments counts trade risk assessments by outcome and risk level.
	Assessments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgate_assessments_total",
		Help: "Trade risk assessments by outcome and risk level",
	}, []string{"outcome", "level"})

	// RiskScore is the distribution of assessment risk scores.
	RiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskgate_risk_score",
		Help:    "Trade risk score (0-100)",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	// EmergencyStopActive is 1 while the emergency stop is engaged.
	EmergencyStopActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskgate_emergency_stop_active",
		Help: "1 while the emergency stop is engaged",
	})

	// HeartbeatEvaluations counts per-entry heartbeat evaluations by result.
	HeartbeatEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgate_heartbeat_evaluations_total",
		Help: "Heartbeat gate evaluations by result",
	}, []string{"result"})

	// WatchlistExpired counts watchlist entries removed by cleanup.
	WatchlistExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskgate_watchlist_expired_total",
		Help: "Watchlist entries removed after expiry",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskgate_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskgate_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskgate_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

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

		// Label by route pattern, not raw path: paths embed user IDs.
		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

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

// Hijack lets the WebSocket upgrader take over connections routed through
// the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
