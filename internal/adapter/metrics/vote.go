package metrics

import "github.com/prometheus/client_golang/prometheus"

// VoteMetrics holds Prometheus metrics for collective-action proposals.
type VoteMetrics struct {
	Proposals   prometheus.Counter
	VotesCast   *prometheus.CounterVec
	Resolutions *prometheus.CounterVec
}

// NewVoteMetrics creates and registers proposal metrics on the given registry.
func NewVoteMetrics(reg prometheus.Registerer) *VoteMetrics {
	m := &VoteMetrics{
		Proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collective",
			Name:      "proposals_total",
			Help:      "Total number of proposals created.",
		}),
		VotesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collective",
			Name:      "votes_total",
			Help:      "Total number of vote attempts, by choice and result code.",
		}, []string{"choice", "result"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collective",
			Name:      "resolutions_total",
			Help:      "Total number of resolved proposals, by final status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.Proposals, m.VotesCast, m.Resolutions)
	return m
}
