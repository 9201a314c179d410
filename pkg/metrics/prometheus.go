package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Evaluation metrics
	evaluations     *prometheus.CounterVec
	interactions    *prometheus.CounterVec
	replayDuration  prometheus.Histogram
	evaluatedHeight *prometheus.GaugeVec

	// Loader metrics
	interactionsLoaded prometheus.Counter
	loadRetries        prometheus.Counter
	loadDuration       prometheus.Histogram

	// Cache metrics
	cacheHits          *prometheus.CounterVec
	cacheMisses        prometheus.Counter
	cacheWrites        *prometheus.CounterVec
	cacheInvalidations prometheus.Counter

	// Gateway metrics
	gatewayRequests *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,

		// Evaluation metrics
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of contract state evaluations by result",
			},
			[]string{"result"},
		),
		interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactions_evaluated_total",
				Help:      "Total number of interactions replayed by outcome",
			},
			[]string{"outcome"},
		),
		replayDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "replay_duration_seconds",
				Help:      "Time spent replaying interactions in one evaluation",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),
		evaluatedHeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "evaluated_height",
				Help:      "Block height of the last interaction evaluated per contract",
			},
			[]string{"contract"},
		),

		// Loader metrics
		interactionsLoaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactions_loaded_total",
				Help:      "Total number of interactions loaded from the index",
			},
		),
		loadRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_retries_total",
				Help:      "Total number of retried index page requests",
			},
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_duration_seconds",
				Help:      "Time spent loading an interaction range",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		// Cache metrics
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of snapshot lookups served from cache by layer",
			},
			[]string{"layer"},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of snapshot lookups with no usable snapshot",
			},
		),
		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_writes_total",
				Help:      "Total number of snapshot writes by result",
			},
			[]string{"result"},
		),
		cacheInvalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidated_snapshots_total",
				Help:      "Total number of snapshots removed by invalidation",
			},
		),

		// Gateway metrics
		gatewayRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Gateway request latency by endpoint",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}

	registry.MustRegister(
		m.evaluations,
		m.interactions,
		m.replayDuration,
		m.evaluatedHeight,
		m.interactionsLoaded,
		m.loadRetries,
		m.loadDuration,
		m.cacheHits,
		m.cacheMisses,
		m.cacheWrites,
		m.cacheInvalidations,
		m.gatewayRequests,
	)

	return m
}

// Evaluation metrics

func (m *PrometheusMetrics) IncEvaluations(result string) {
	m.evaluations.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) IncInteractions(outcome string) {
	m.interactions.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) ObserveReplayDuration(duration time.Duration) {
	m.replayDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) SetEvaluatedHeight(contractID string, height uint64) {
	m.evaluatedHeight.WithLabelValues(contractID).Set(float64(height))
}

// Loader metrics

func (m *PrometheusMetrics) IncInteractionsLoaded(count int) {
	m.interactionsLoaded.Add(float64(count))
}

func (m *PrometheusMetrics) IncLoadRetries() {
	m.loadRetries.Inc()
}

func (m *PrometheusMetrics) ObserveLoadDuration(duration time.Duration) {
	m.loadDuration.Observe(duration.Seconds())
}

// Cache metrics

func (m *PrometheusMetrics) IncCacheHits(layer string) {
	m.cacheHits.WithLabelValues(layer).Inc()
}

func (m *PrometheusMetrics) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *PrometheusMetrics) IncCacheWrites(result string) {
	m.cacheWrites.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) IncCacheInvalidations(count int) {
	m.cacheInvalidations.Add(float64(count))
}

// Gateway metrics

func (m *PrometheusMetrics) ObserveGatewayRequest(endpoint string, duration time.Duration) {
	m.gatewayRequests.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for serving metrics.
func (m *PrometheusMetrics) Handler() any {
	return m.HTTPHandler()
}

// HTTPHandler returns a typed HTTP handler for serving metrics.
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

var _ Metrics = (*PrometheusMetrics)(nil)
