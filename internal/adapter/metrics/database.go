package metrics

import "github.com/prometheus/client_golang/prometheus"

// DatabaseMetrics holds Prometheus metrics for ledger queries.
type DatabaseMetrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewDatabaseMetrics creates and registers database metrics on the given registry.
func NewDatabaseMetrics(reg prometheus.Registerer) *DatabaseMetrics {
	m := &DatabaseMetrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query latency, by leading SQL verb.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"query"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of failed database queries, by leading SQL verb.",
		}, []string{"query"}),
	}

	reg.MustRegister(m.QueryDuration, m.QueryErrors)
	return m
}
