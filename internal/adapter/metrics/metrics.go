package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pscheid92/crowdpulse/internal/platform/version"
)

const namespace = "crowdpulse"

// NewRegistry creates the crowdpulse registry: Go runtime and process
// collectors plus a constant build_info series carrying the running version.
func NewRegistry(info version.Info) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Always 1; labels identify the running build and frame protocol.",
			ConstLabels: prometheus.Labels{
				"version":    info.Version,
				"commit":     info.Commit,
				"go_version": info.GoVersion,
				"protocol":   strconv.Itoa(info.Protocol),
			},
		}, func() float64 { return 1 }),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
