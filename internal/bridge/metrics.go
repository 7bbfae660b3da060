package bridge

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series Supergateway exposes on /metrics.
// Re-keyed from the teacher's request/duration pair onto bridging's own
// label set: bridging mode, message direction, and outcome status.
type Metrics struct {
	MessagesTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveSessions  prometheus.Gauge
	ChildRestarts   *prometheus.CounterVec
}

// NewMetrics creates and registers Supergateway's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		MessagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "supergateway",
				Name:      "messages_total",
				Help:      "Total JSON-RPC messages bridged",
			},
			[]string{"mode", "direction", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "supergateway",
				Name:      "request_duration_seconds",
				Help:      "Duration of a bridged HTTP request",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "supergateway",
				Name:      "active_sessions",
				Help:      "Number of live stateful Streamable HTTP sessions",
			},
		),
		ChildRestarts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "supergateway",
				Name:      "child_restarts_total",
				Help:      "Total child process restarts triggered by runtime overrides",
			},
			[]string{"scope"},
		),
	}
}

// Middleware records request duration per bridging mode. Grounded on the
// teacher's MetricsMiddleware, parameterized on mode instead of HTTP method
// since every adapter serves a fixed method set.
func (m *Metrics) Middleware(mode string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		m.RequestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	})
}
