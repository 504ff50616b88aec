package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authentication operations.
type Metrics struct {
	successTotal prometheus.Counter
	failureTotal *prometheus.CounterVec
	duration     prometheus.Histogram
	registerer   prometheus.Registerer
}

// NewMetrics creates a new Metrics instance registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom
// registerer. Tests and the gateway's private registry use this.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "krestgw"
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registerer: registerer,
	}

	m.successTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "success_total",
			Help:      "Total number of successful authentications",
		},
	)

	m.failureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failure_total",
			Help:      "Total number of failed authentications",
		},
		[]string{"reason"},
	)

	m.duration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "duration_seconds",
			Help:      "Credential verification duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Register ignoring duplicates so repeated construction in tests is safe.
	for _, c := range []prometheus.Collector{m.successTotal, m.failureTotal, m.duration} {
		_ = m.registerer.Register(c)
	}

	return m
}

// Init pre-initializes failure reason labels with zero values so the
// series appear in /metrics output immediately after startup.
func (m *Metrics) Init() {
	for _, reason := range []string{
		"missing_credentials", "invalid_header", "invalid_credentials", "store_error",
	} {
		m.failureTotal.WithLabelValues(reason)
	}
}

// RecordSuccess records a successful authentication.
func (m *Metrics) RecordSuccess(duration time.Duration) {
	m.successTotal.Inc()
	m.duration.Observe(duration.Seconds())
}

// RecordFailure records a failed authentication.
func (m *Metrics) RecordFailure(reason string) {
	m.failureTotal.WithLabelValues(reason).Inc()
}
