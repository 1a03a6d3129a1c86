// Package metrics exposes Prometheus collectors for chat processing,
// alerting and persistence.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solace"

// Metrics groups every collector the service reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	messages            *prometheus.CounterVec
	alerts              *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
	mood                prometheus.Histogram
	chatDuration        prometheus.Histogram
	activeSessions      prometheus.Gauge
	generatorFallbacks  prometheus.Counter
	rateLimited         prometheus.Counter
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry. The
// collectors are created once so constructing several engines in one
// process does not panic on duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNewMetrics registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry(). Registration errors other than an identical
// collector already being present panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Messages processed, by detected stage.",
		}, []string{"stage"})),
		alerts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "alerts_total",
			Help:      "Mood alerts raised, by level.",
		}, []string{"kind"})),
		persistenceFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Store operations that failed after retries.",
		}, []string{"op"})),
		mood: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "mood_index",
			Help:      "Distribution of mood index values after each update.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		})),
		chatDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall time spent processing one chat message.",
			Buckets:   prometheus.DefBuckets,
		})),
		activeSessions: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_sessions",
			Help:      "User sessions held in memory.",
		})),
		generatorFallbacks: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "fallbacks_total",
			Help:      "Replies served from templates because the model failed.",
		})),
		rateLimited: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveMessage counts a processed message and records the resulting mood.
func (m *Metrics) ObserveMessage(stage string, mood float64, took time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(stage).Inc()
	m.mood.Observe(mood)
	m.chatDuration.Observe(took.Seconds())
}

// IncAlert counts a raised alert.
func (m *Metrics) IncAlert(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

// IncPersistenceFailure counts a store operation that gave up.
func (m *Metrics) IncPersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(op).Inc()
}

// SetActiveSessions reports the number of sessions in the registry.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncGeneratorFallback counts a template reply served after a model error.
func (m *Metrics) IncGeneratorFallback() {
	if m == nil {
		return
	}
	m.generatorFallbacks.Inc()
}

// IncRateLimited counts a rejected request.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
