package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that hit no registered route, so probing
// random paths cannot grow the label set.
const unmatchedRoute = "unmatched"

type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlight        prometheus.Gauge
	Throttled       *prometheus.CounterVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	labels := []string{"method", "route", "status_code"}
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of crowd API requests.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, labels),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Crowd API requests by route and status.",
		}, labels),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Crowd API requests being served.",
		}),
		Throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "throttled_total",
			Help:      "Requests refused by the per-spectator rate limit.",
		}, []string{"route"}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlight, m.Throttled)
	return m
}

// Middleware records every request except scrapes, probes and the long-lived
// /ws upgrade, whose lifetime is tracked by the websocket metrics instead.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "/metrics" || route == "/ws" || strings.HasPrefix(route, "/health/") || route == "/version" {
				return next(c)
			}
			if route == "" {
				route = unmatchedRoute
			}

			m.InFlight.Inc()
			defer m.InFlight.Dec()

			method := c.Request().Method
			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				status := c.Response().Status
				code := strconv.Itoa(status)
				m.RequestDuration.WithLabelValues(method, route, code).Observe(v)
				m.RequestsTotal.WithLabelValues(method, route, code).Inc()
				if status == http.StatusTooManyRequests {
					m.Throttled.WithLabelValues(route).Inc()
				}
			}))
			defer timer.ObserveDuration()

			return next(c)
		}
	}
}
