package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveClassification(OutcomeCached)
		m.ObserveCacheLookup("local", true)
		m.SetGateActive(2)
		m.SetModelsLoaded(1)
		m.ObserveModelLoad(nil)
		m.ObserveCleanup("critical")
		m.SetMemoryUsage(0.5)
		m.ObserveGeneration("initial", true)
		m.ObserveConversationSaved()
		m.ObserveHTTPRequest("/health", 200)
		m.AddInflight(1)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveClassification(OutcomeComputed)
	m.ObserveClassification(OutcomeComputed)
	m.ObserveClassification(OutcomeShed)
	m.ObserveCacheLookup("redis", false)
	m.ObserveModelLoad(errors.New("boom"))
	m.ObserveGeneration("paraphrase", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClassificationsTotal.WithLabelValues(OutcomeComputed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassificationsTotal.WithLabelValues(OutcomeShed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("redis", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelLoadsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("paraphrase", "fallback")))
}

func TestMetrics_Gauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetGateActive(3)
	m.SetModelsLoaded(2)
	m.SetMemoryUsage(0.42)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.GateActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ModelsLoaded))
	assert.InDelta(t, 0.42, testutil.ToFloat64(m.MemoryUsageRatio), 1e-9)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveConversationSaved()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "combot_conversation_saved_total 1"))
}

func TestMetrics_HTTP(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveHTTPRequest("/api/chat/", 200)
	m.ObserveHTTPRequest("/api/chat/", 200)
	m.ObserveHTTPRequest("/api/chat/", 400)
	m.AddInflight(1)
	m.AddInflight(1)
	m.AddInflight(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/chat/", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/chat/", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InflightRequests))
}
