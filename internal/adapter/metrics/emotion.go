package metrics

import "github.com/prometheus/client_golang/prometheus"

// EmotionMetrics holds Prometheus metrics for the emotion aggregator.
type EmotionMetrics struct {
	Activations   *prometheus.CounterVec
	ActiveRecords prometheus.Gauge
	Decayed       prometheus.Counter
}

// NewEmotionMetrics creates and registers emotion metrics on the given registry.
func NewEmotionMetrics(reg prometheus.Registerer) *EmotionMetrics {
	m := &EmotionMetrics{
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emotion",
			Name:      "activations_total",
			Help:      "Total number of emotion activations, by type.",
		}, []string{"type"}),
		ActiveRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "emotion",
			Name:      "active_records",
			Help:      "Number of stored emotion activations.",
		}),
		Decayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emotion",
			Name:      "decayed_total",
			Help:      "Total number of activations removed by decay or disconnect.",
		}),
	}

	reg.MustRegister(m.Activations, m.ActiveRecords, m.Decayed)
	return m
}
