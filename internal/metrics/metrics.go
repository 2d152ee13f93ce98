package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram

	// Ranking metrics
	recordsTotal prometheus.Counter
	worldLatency *prometheus.GaugeVec
	bestLatency  prometheus.Gauge
	targetsTotal prometheus.Gauge

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of world probes by outcome",
			},
			[]string{"result"},
		),
		probeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Wall time of one world probe in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2, 3, 5, 10, 30},
			},
		),
		recordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Total number of latency records extracted from probe output",
			},
		),
		worldLatency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "world_latency_milliseconds",
				Help:      "Last average round-trip latency per world",
			},
			[]string{"world"},
		),
		bestLatency: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "best_latency_milliseconds",
				Help:      "Lowest average latency seen so far",
			},
		),
		targetsTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "targets",
				Help:      "Number of worlds selected for this run",
			},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	return c
}

// Handler serves the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordProbeMatched() {
	c.probesTotal.WithLabelValues("matched").Inc()
}

func (c *Collector) RecordProbeUnmatched() {
	c.probesTotal.WithLabelValues("unmatched").Inc()
}

func (c *Collector) RecordProbeFailure() {
	c.probesTotal.WithLabelValues("failure").Inc()
}

func (c *Collector) RecordProbeDuration(seconds float64) {
	c.probeDuration.Observe(seconds)
}

func (c *Collector) RecordWorldLatency(worldID int, ms float64) {
	c.recordsTotal.Inc()
	c.worldLatency.WithLabelValues(strconv.Itoa(worldID)).Set(ms)
}

func (c *Collector) SetBestLatency(ms float64) {
	c.bestLatency.Set(ms)
}

func (c *Collector) SetTargets(count int) {
	c.targetsTotal.Set(float64(count))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
