package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing
	WebhookEventsTotal *prometheus.CounterVec

	// Credits
	LedgerOperationsTotal *prometheus.CounterVec
	SpendRequestsTotal    *prometheus.CounterVec
	GenerationDuration    *prometheus.HistogramVec
	RateLimitedTotal      prometheus.Counter
}

// New creates and registers all collectors on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision2viral_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision2viral_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision2viral_webhook_events_total",
				Help: "Billing webhook events by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		LedgerOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision2viral_ledger_operations_total",
				Help: "Credit ledger operations by kind and outcome",
			},
			[]string{"operation", "outcome"},
		),
		SpendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vision2viral_spend_requests_total",
				Help: "Generation spend requests by feature and outcome",
			},
			[]string{"feature", "outcome"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vision2viral_generation_duration_seconds",
				Help:    "Latency of the generation backend",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vision2viral_rate_limited_total",
				Help: "Requests rejected by the per-user rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.LedgerOperationsTotal,
		m.SpendRequestsTotal,
		m.GenerationDuration,
		m.RateLimitedTotal,
	)
	return m
}

func (m *Metrics) Webhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Ledger(operation string, err error) {
	if m == nil {
		return
	}
	m.LedgerOperationsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) Spend(feature, outcome string) {
	if m == nil {
		return
	}
	m.SpendRequestsTotal.WithLabelValues(feature, outcome).Inc()
}

func (m *Metrics) Generation(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency. route labels the request
// with a low-cardinality name such as the router pattern.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			name := route(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rec.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
		})
	}
}
