package httpapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus collectors the transport layer
// instruments, against a private registry rather than the global
// default one so a test can build more than one Server in the same
// process without a duplicate-registration panic. Grounded on
// tracing.Metrics's namespace/labels convention, scoped down to what
// this layer can observe directly: per-route turn latency and turn
// outcome counts.
type metrics struct {
	registry     *prometheus.Registry
	turnDuration *prometheus.HistogramVec
	turnsTotal   *prometheus.CounterVec
}

func newMetrics(namespace string) *metrics {
	if namespace == "" {
		namespace = "flowrt"
	}
	registry := prometheus.NewRegistry()

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of a single conversational turn, by route and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns served, by route and outcome.",
		},
		[]string{"route", "status"},
	)
	registry.MustRegister(turnDuration, turnsTotal)

	return &metrics{registry: registry, turnDuration: turnDuration, turnsTotal: turnsTotal}
}

// observe records a turn's duration and outcome under route (e.g.
// "start", "interact"). status is an HTTP status code.
func (m *metrics) observe(route string, status int, start time.Time) {
	label := strconv.Itoa(status)
	m.turnDuration.WithLabelValues(route, label).Observe(time.Since(start).Seconds())
	m.turnsTotal.WithLabelValues(route, label).Inc()
}

// handler exposes the registry's collectors for scraping.
func (m *metrics) handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
