package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authorization decisions.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	duration       prometheus.Histogram
}

// NewMetrics creates a new Metrics instance registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom
// registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "krestgw"
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions",
		},
		[]string{"policy", "status"},
	)

	m.duration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decision_duration_seconds",
			Help:      "Authorization decision duration in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	for _, c := range []prometheus.Collector{m.decisionsTotal, m.duration} {
		_ = registerer.Register(c)
	}

	return m
}

// RecordDecision records an authorization decision.
func (m *Metrics) RecordDecision(policy, status string, duration time.Duration) {
	m.decisionsTotal.WithLabelValues(policy, status).Inc()
	m.duration.Observe(duration.Seconds())
}
