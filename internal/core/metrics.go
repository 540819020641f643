package core

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the API process. A single
// instance is created at startup and shared by middleware and domain code.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	webhookEvents   *prometheus.CounterVec
	quotaRejections prometheus.Counter
}

// NewMetrics creates a Metrics instance backed by its own registry so tests
// can create instances without duplicate-registration panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homegrid_http_request_duration_seconds",
			Help:    "HTTP request latency by method and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "homegrid_webhook_events_total",
			Help: "Processed payment-provider webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		quotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "homegrid_quota_rejections_total",
			Help: "Property creations rejected because the agency quota was reached.",
		}),
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, duration time.Duration) {
	m.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// IncWebhookEvent records the outcome of one webhook event.
// Outcome is one of "applied", "ignored", "orphaned", "failed".
func (m *Metrics) IncWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// IncQuotaRejection records a quota-gated property creation rejection.
func (m *Metrics) IncQuotaRejection() {
	m.quotaRejections.Inc()
}

// MetricsMiddleware records request latency and count for every request.
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rc, r)

		s.Metrics.ObserveRequest(r.Method, rc.statusCode, time.Since(start))
	})
}
