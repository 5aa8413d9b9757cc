// Package metrics holds the Prometheus collectors of the intake service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeInvalidMessage = "invalid_message"
	OutcomeFailed         = "failed"
	OutcomeComplete       = "session_complete"
)

// Metrics groups the collectors. A nil *Metrics records nothing, so
// components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	turns             *prometheus.CounterVec
	sessionsCompleted prometheus.Counter
	extractDuration   *prometheus.HistogramVec
	extractFailures   *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_ws_connections_active",
			Help: "Number of open chat connections",
		}),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_turns_total",
				Help: "Conversation turns by outcome",
			},
			[]string{"outcome"},
		),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_sessions_completed_total",
			Help: "Sessions that reached a terminal step",
		}),
		extractDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_extract_duration_seconds",
				Help:    "Latency of extraction model calls",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 9),
			},
			[]string{"step"},
		),
		extractFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_extract_failures_total",
				Help: "Failed extraction calls by reason",
			},
			[]string{"reason"},
		),
	}
	m.registry.MustRegister(
		m.connectionsActive,
		m.turns,
		m.sessionsCompleted,
		m.extractDuration,
		m.extractFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// Turn counts one processed frame.
func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionCompleted() {
	if m == nil {
		return
	}
	m.sessionsCompleted.Inc()
}

// Extraction records one model call. reason is empty on success.
func (m *Metrics) Extraction(step string, elapsed time.Duration, reason string) {
	if m == nil {
		return
	}
	m.extractDuration.WithLabelValues(step).Observe(elapsed.Seconds())
	if reason != "" {
		m.extractFailures.WithLabelValues(reason).Inc()
	}
}
