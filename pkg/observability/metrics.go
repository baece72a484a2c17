package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Quota metrics
	QuotaConsumedTotal *prometheus.CounterVec
	QuotaRejectedTotal *prometheus.CounterVec
	QuotaRefundedTotal *prometheus.CounterVec
	NotesCreatedTotal  *prometheus.CounterVec

	// Provider metrics
	ProviderCallDuration *prometheus.HistogramVec
	ProviderErrorsTotal  *prometheus.CounterVec

	// Reconciliation metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Sweeper metrics
	SweepRunsTotal   *prometheus.CounterVec
	SweepResetsTotal prometheus.Counter
	SweepLastRunTime prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxnote_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voxnote_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		QuotaConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxnote_quota_consumed_total",
				Help: "Quota units consumed, by usage kind",
			},
			[]string{"kind"},
		),
		QuotaRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxnote_quota_rejected_total",
				Help: "Requests rejected because quota was exhausted",
			},
			[]string{"kind"},
		),
		QuotaRefundedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxnote_quota_refunded_total",
				Help: "Quota units credited back after a failed provider call",
			},
			[]string{"kind"},
		),
		NotesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxnote_notes_created_total",
				Help: "Notes created, by note type",
			},
			[]string{"type"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voxnote_provider_call_duration_seconds",
				Help:    "Latency of external provider calls",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "operation"},
		),
		ProviderErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxnote_provider_errors_total",
				Help: "Failed external provider calls",
			},
			[]string{"provider", "operation"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxnote_webhook_events_total",
				Help: "Billing webhook events, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxnote_sweep_runs_total",
				Help: "Renewal sweeper runs, by result",
			},
			[]string{"result"},
		),
		SweepResetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "voxnote_sweep_resets_total",
				Help: "Free-plan subscriptions reset by the renewal sweeper",
			},
		),
		SweepLastRunTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "voxnote_sweep_last_run_timestamp_seconds",
				Help: "Unix time of the last completed sweep",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QuotaConsumedTotal,
		m.QuotaRejectedTotal,
		m.QuotaRefundedTotal,
		m.NotesCreatedTotal,
		m.ProviderCallDuration,
		m.ProviderErrorsTotal,
		m.WebhookEventsTotal,
		m.SweepRunsTotal,
		m.SweepResetsTotal,
		m.SweepLastRunTime,
	)

	return m
}

// RecordQuotaConsumed counts a successful consumption
func (m *Metrics) RecordQuotaConsumed(kind string) {
	if m == nil {
		return
	}
	m.QuotaConsumedTotal.WithLabelValues(kind).Inc()
}

// RecordQuotaRejected counts a quota rejection
func (m *Metrics) RecordQuotaRejected(kind string) {
	if m == nil {
		return
	}
	m.QuotaRejectedTotal.WithLabelValues(kind).Inc()
}

// RecordQuotaRefunded counts a compensating refund
func (m *Metrics) RecordQuotaRefunded(kind string) {
	if m == nil {
		return
	}
	m.QuotaRefundedTotal.WithLabelValues(kind).Inc()
}

// RecordNoteCreated counts a created note
func (m *Metrics) RecordNoteCreated(noteType string) {
	if m == nil {
		return
	}
	m.NotesCreatedTotal.WithLabelValues(noteType).Inc()
}

// ObserveProviderCall records the latency and outcome of a provider call
func (m *Metrics) ObserveProviderCall(provider, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.ProviderCallDuration.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.ProviderErrorsTotal.WithLabelValues(provider, operation).Inc()
	}
}

// RecordWebhookEvent counts a processed webhook event
func (m *Metrics) RecordWebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordSweep records a finished sweeper run
func (m *Metrics) RecordSweep(resets int, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SweepRunsTotal.WithLabelValues(result).Inc()
	m.SweepResetsTotal.Add(float64(resets))
	m.SweepLastRunTime.SetToCurrentTime()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
