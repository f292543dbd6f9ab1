// Package metrics exposes Prometheus metrics for the relay's HTTP surface and
// its upstream completion calls.
//
// All Collector methods are safe to call on a nil receiver, so components can
// run without metrics in tests and in the one-shot CLI.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tripwise/relay/internal/config"
)

// Upstream call outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// latencyBuckets are tuned for LLM completions, which routinely take seconds.
var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}

// Collector owns the registry and every metric the relay records.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec

	parseFailures *prometheus.CounterVec
}

// NewCollector creates and registers all metrics. If registry is nil a fresh
// registry is created so tests never collide on the global one.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	ns := cfg.Namespace

	c := &Collector{
		registry: registry,

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   latencyBuckets,
			},
			[]string{"route"},
		),

		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Total completion calls by deployment and outcome",
			},
			[]string{"deployment", "outcome"},
		),

		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "upstream",
				Name:      "latency_seconds",
				Help:      "Completion call latency in seconds",
				Buckets:   latencyBuckets,
			},
			[]string{"deployment"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "upstream",
				Name:      "errors_total",
				Help:      "Completion call failures by error kind",
			},
			[]string{"kind"},
		),

		parseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "normalize",
				Name:      "parse_failures_total",
				Help:      "Model replies that could not be parsed as the expected JSON",
			},
			[]string{"route", "reason"},
		),
	}

	registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.upstreamRequests,
		c.upstreamLatency,
		c.upstreamErrors,
		c.parseFailures,
	)

	return c
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(route, method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveUpstream records one completion call. errKind is empty on success.
func (c *Collector) ObserveUpstream(deployment string, d time.Duration, errKind string) {
	if c == nil {
		return
	}
	c.upstreamLatency.WithLabelValues(deployment).Observe(d.Seconds())
	if errKind == "" {
		c.upstreamRequests.WithLabelValues(deployment, OutcomeSuccess).Inc()
		return
	}
	c.upstreamRequests.WithLabelValues(deployment, OutcomeError).Inc()
	c.upstreamErrors.WithLabelValues(errKind).Inc()
}

// ObserveParseFailure records a reply that failed JSON normalization
func (c *Collector) ObserveParseFailure(route, reason string) {
	if c == nil {
		return
	}
	c.parseFailures.WithLabelValues(route, reason).Inc()
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns the exposition handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
