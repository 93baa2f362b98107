// Package metrics exposes Prometheus instrumentation for the media pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	// Key cache
	CacheLookupsTotal *prometheus.CounterVec
	CachePutsTotal    *prometheus.CounterVec

	// Resolution
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
	DedupSharedTotal   prometheus.Counter
	BreakerState       *prometheus.GaugeVec

	// Uploads and variants
	ValidationsTotal  *prometheus.CounterVec
	GenerationsTotal  *prometheus.CounterVec
	GenerationSeconds *prometheus.HistogramVec
	BackfillTotal     *prometheus.CounterVec
}

// New creates metrics registered with reg. A nil reg leaves them
// unregistered, which keeps parallel test instances independent.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "simplemedia"
	}
	factory := promauto.With(reg)

	return &Metrics{
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keycache",
				Name:      "lookups_total",
				Help:      "Key cache lookups by result",
			},
			[]string{"result"}, // hit, miss, stale, legacy
		),
		CachePutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keycache",
				Name:      "puts_total",
				Help:      "Key cache writes by source type",
			},
			[]string{"source"},
		),
		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "resolutions_total",
				Help:      "Resolutions by the fallback level that answered",
			},
			[]string{"outcome"}, // signed, proxied, last_good, persisted, failed
		),
		ResolutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "resolution_duration_seconds",
				Help:      "Time spent walking the fallback chain",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		DedupSharedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "dedup_shared_total",
				Help:      "Callers that joined an in-flight resolution",
			},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"backend"},
		),
		ValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upload",
				Name:      "validations_total",
				Help:      "Upload validations by kind and result",
			},
			[]string{"kind", "result"}, // accepted, size, type, dimensions
		),
		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "variants",
				Name:      "generations_total",
				Help:      "Variant generation attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
		GenerationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "variants",
				Name:      "generation_duration_seconds",
				Help:      "Variant generation duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		BackfillTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backfill",
				Name:      "assets_total",
				Help:      "Backfill outcomes per asset",
			},
			[]string{"result"}, // success, failed, skipped
		),
	}
}

// CacheLookup records a key cache lookup.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// CachePut records a key cache write.
func (m *Metrics) CachePut(source string) {
	if m == nil {
		return
	}
	m.CachePutsTotal.WithLabelValues(source).Inc()
}

// Resolution records which fallback level answered and how long it took.
func (m *Metrics) Resolution(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolutionDuration.Observe(d.Seconds())
}

// DedupShared records a caller joining an in-flight resolution.
func (m *Metrics) DedupShared() {
	if m == nil {
		return
	}
	m.DedupSharedTotal.Inc()
}

// Breaker records a circuit breaker state.
func (m *Metrics) Breaker(backend string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(backend).Set(float64(state))
}

// Validation records an upload validation result.
func (m *Metrics) Validation(kind, result string) {
	if m == nil {
		return
	}
	m.ValidationsTotal.WithLabelValues(kind, result).Inc()
}

// Generation records a variant generation attempt.
func (m *Metrics) Generation(kind string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failed"
	}
	m.GenerationsTotal.WithLabelValues(kind, result).Inc()
	m.GenerationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// Backfill records one backfill asset outcome.
func (m *Metrics) Backfill(result string) {
	if m == nil {
		return
	}
	m.BackfillTotal.WithLabelValues(result).Inc()
}
