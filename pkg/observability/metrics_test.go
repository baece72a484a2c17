package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordQuotaConsumed("upload")
		m.RecordQuotaRejected("upload")
		m.RecordQuotaRefunded("upload")
		m.RecordNoteCreated("summary")
		m.ObserveProviderCall("lemonfox", "transcribe", time.Now(), errors.New("x"))
		m.RecordWebhookEvent("invoice_paid", "accepted")
		m.RecordSweep(3, nil)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordQuotaConsumed("upload")
	m.RecordQuotaConsumed("upload")
	m.RecordQuotaRejected("recording")
	m.RecordWebhookEvent("subscription_lapsed", "accepted")
	m.ObserveProviderCall("stripe", "checkout", time.Now(), errors.New("declined"))
	m.RecordSweep(4, nil)
	m.RecordSweep(0, errors.New("db down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QuotaConsumedTotal.WithLabelValues("upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaRejectedTotal.WithLabelValues("recording")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("subscription_lapsed", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderErrorsTotal.WithLabelValues("stripe", "checkout")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SweepResetsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRunsTotal.WithLabelValues("error")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/notes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes/42", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/notes/{id}", "403")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voxnote_http_requests_total")
}
