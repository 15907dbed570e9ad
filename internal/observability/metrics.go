// Package observability provides Prometheus metrics for the chatbot backend.
//
// Metrics are created against an explicit registerer so tests can use an
// isolated registry. A nil *Metrics is valid and records nothing.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "combot"

// Classification outcomes
const (
	OutcomeComputed    = "computed"
	OutcomeCached      = "cached"
	OutcomeEmpty       = "empty"
	OutcomeShed        = "shed"
	OutcomeUnavailable = "model_unavailable"
	OutcomeFailed      = "failed"
)

// Metrics holds all collectors used by the service
type Metrics struct {
	// ClassificationsTotal counts Classify calls by outcome.
	ClassificationsTotal *prometheus.CounterVec

	// CacheLookupsTotal counts result cache lookups.
	// Labels: tier (local, redis), result (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// GateActive tracks held concurrency slots.
	GateActive prometheus.Gauge

	// ModelsLoaded tracks the model pool size.
	ModelsLoaded prometheus.Gauge

	// ModelLoadsTotal counts model loads by status (success, error).
	ModelLoadsTotal *prometheus.CounterVec

	// CleanupsTotal counts executed memory actions by tier.
	CleanupsTotal *prometheus.CounterVec

	// MemoryUsageRatio is the last probed system memory usage (0..1).
	MemoryUsageRatio prometheus.Gauge

	// GenerationsTotal counts reply generations.
	// Labels: response_type, status (ok, fallback)
	GenerationsTotal *prometheus.CounterVec

	// ConversationsSavedTotal counts persisted conversation records.
	ConversationsSavedTotal prometheus.Counter

	// HTTPRequestsTotal counts handled requests by route and status code.
	HTTPRequestsTotal *prometheus.CounterVec

	// InflightRequests tracks requests currently being served.
	InflightRequests prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all collectors on reg.
// Panics on duplicate registration, like promauto.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "classify",
				Name:      "requests_total",
				Help:      "Classification requests by outcome",
			},
			[]string{"outcome"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Result cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		GateActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "gate",
			Name:      "active_slots",
			Help:      "Concurrency slots currently held",
		}),
		ModelsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "models",
			Name:      "loaded",
			Help:      "Models resident in the pool",
		}),
		ModelLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "models",
				Name:      "loads_total",
				Help:      "Model loads by status",
			},
			[]string{"status"},
		),
		CleanupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "cleanups_total",
				Help:      "Memory cleanup actions executed by tier",
			},
			[]string{"tier"},
		),
		MemoryUsageRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "memory",
			Name:      "usage_ratio",
			Help:      "Fraction of system memory in use at the last check",
		}),
		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "generation",
				Name:      "requests_total",
				Help:      "Reply generations by response type and status",
			},
			[]string{"response_type", "status"},
		),
		ConversationsSavedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "conversation",
			Name:      "saved_total",
			Help:      "Conversation records persisted",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		InflightRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "HTTP requests currently being served",
		}),
		gatherer: reg,
	}
}

// Handler returns the /metrics handler for the registry the metrics were created on
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveClassification records a Classify outcome
func (m *Metrics) ObserveClassification(outcome string) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup records a cache lookup on one tier
func (m *Metrics) ObserveCacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(tier, result).Inc()
}

// SetGateActive records held slots
func (m *Metrics) SetGateActive(n int) {
	if m == nil {
		return
	}
	m.GateActive.Set(float64(n))
}

// SetModelsLoaded records the pool size
func (m *Metrics) SetModelsLoaded(n int) {
	if m == nil {
		return
	}
	m.ModelsLoaded.Set(float64(n))
}

// ObserveModelLoad records a model load attempt
func (m *Metrics) ObserveModelLoad(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelLoadsTotal.WithLabelValues(status).Inc()
}

// ObserveCleanup records an executed memory tier
func (m *Metrics) ObserveCleanup(tier string) {
	if m == nil {
		return
	}
	m.CleanupsTotal.WithLabelValues(tier).Inc()
}

// SetMemoryUsage records probed usage
func (m *Metrics) SetMemoryUsage(ratio float64) {
	if m == nil {
		return
	}
	m.MemoryUsageRatio.Set(ratio)
}

// ObserveGeneration records a reply generation
func (m *Metrics) ObserveGeneration(responseType string, fallback bool) {
	if m == nil {
		return
	}
	status := "ok"
	if fallback {
		status = "fallback"
	}
	m.GenerationsTotal.WithLabelValues(responseType, status).Inc()
}

// ObserveConversationSaved records a persisted record
func (m *Metrics) ObserveConversationSaved() {
	if m == nil {
		return
	}
	m.ConversationsSavedTotal.Inc()
}

// ObserveHTTPRequest records a handled request
func (m *Metrics) ObserveHTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// AddInflight adjusts the in-flight request gauge by delta
func (m *Metrics) AddInflight(delta float64) {
	if m == nil {
		return
	}
	m.InflightRequests.Add(delta)
}
