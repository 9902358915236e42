package metrics

import "github.com/prometheus/client_golang/prometheus"

// SweepMetrics holds Prometheus metrics for the decay and lifecycle scheduler.
type SweepMetrics struct {
	Duration *prometheus.HistogramVec
	Slow     *prometheus.CounterVec
}

// NewSweepMetrics creates and registers scheduler metrics on the given registry.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	m := &SweepMetrics{
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of a sweep pass, by sweep.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"sweep"}),
		Slow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "slow_total",
			Help:      "Total number of sweep passes that exceeded their interval.",
		}, []string{"sweep"}),
	}

	reg.MustRegister(m.Duration, m.Slow)
	return m
}
