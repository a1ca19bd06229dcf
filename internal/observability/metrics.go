package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects application metrics.
type Metrics interface {
	RecordPromptRequest(ctx context.Context, labels RequestLabels, duration time.Duration)
	RecordProviderRefresh(ctx context.Context, provider, tenant, status string, duration time.Duration)
	RecordRefreshCycle(ctx context.Context, trigger string, duration time.Duration, failures int)
	RecordFragmentFailure(ctx context.Context, provider string)
	RecordEmbedding(ctx context.Context, operation string, duration time.Duration, err error)
	RecordEmbeddingCache(ctx context.Context, hit bool)
}

// RequestLabels contains metric dimensions for the query path.
type RequestLabels struct {
	Tenant string
	Status string
}

// PrometheusMetrics implements Metrics on a private Prometheus registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	promptRequests   *prometheus.CounterVec
	promptDuration   *prometheus.HistogramVec
	providerRefresh  *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	refreshCycle     *prometheus.HistogramVec
	refreshFailures  prometheus.Gauge
	fragmentFailures *prometheus.CounterVec
	embedDuration    *prometheus.HistogramVec
	embedErrors      *prometheus.CounterVec
	embedCacheHits   prometheus.Counter
	embedCacheMisses prometheus.Counter
}

// NewPrometheusMetrics creates and registers all collectors on a fresh registry.
//
// Metrics:
//   - context_engine_prompt_requests_total{tenant,status}
//   - context_engine_prompt_duration_seconds{status}
//   - context_engine_provider_refresh_total{provider,tenant,status}
//   - context_engine_provider_refresh_duration_seconds{provider}
//   - context_engine_refresh_cycle_duration_seconds{trigger}
//   - context_engine_refresh_last_failures
//   - context_engine_fragment_failures_total{provider}
//   - context_engine_embedding_duration_seconds{operation}
//   - context_engine_embedding_errors_total{operation}
//   - context_engine_embedding_cache_hits_total / _misses_total
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		promptRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "context_engine_prompt_requests_total",
				Help: "Total number of prompt composition requests",
			},
			[]string{"tenant", "status"},
		),
		promptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "context_engine_prompt_duration_seconds",
				Help:    "Duration of prompt composition requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		providerRefresh: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "context_engine_provider_refresh_total",
				Help: "Total number of provider refreshes by outcome",
			},
			[]string{"provider", "tenant", "status"},
		),
		refreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "context_engine_provider_refresh_duration_seconds",
				Help:    "Duration of a single provider refresh in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		refreshCycle: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "context_engine_refresh_cycle_duration_seconds",
				Help:    "Duration of a full refresh cycle in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"trigger"},
		),
		refreshFailures: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "context_engine_refresh_last_failures",
				Help: "Number of providers that failed in the most recent refresh cycle",
			},
		),
		fragmentFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "context_engine_fragment_failures_total",
				Help: "Total number of prompt fragments skipped because the provider failed",
			},
			[]string{"provider"},
		),
		embedDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "context_engine_embedding_duration_seconds",
				Help:    "Duration of embedding requests in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		embedErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "context_engine_embedding_errors_total",
				Help: "Total number of failed embedding requests",
			},
			[]string{"operation"},
		),
		embedCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "context_engine_embedding_cache_hits_total",
				Help: "Total number of embedding cache hits",
			},
		),
		embedCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "context_engine_embedding_cache_misses_total",
				Help: "Total number of embedding cache misses",
			},
		),
	}
}

// Handler returns the HTTP handler exposing this registry.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) RecordPromptRequest(_ context.Context, labels RequestLabels, duration time.Duration) {
	tenant := labels.Tenant
	if tenant == "" {
		tenant = "anonymous"
	}
	m.promptRequests.WithLabelValues(tenant, labels.Status).Inc()
	m.promptDuration.WithLabelValues(labels.Status).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordProviderRefresh(_ context.Context, provider, tenant, status string, duration time.Duration) {
	m.providerRefresh.WithLabelValues(provider, tenant, status).Inc()
	m.refreshDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordRefreshCycle(_ context.Context, trigger string, duration time.Duration, failures int) {
	m.refreshCycle.WithLabelValues(trigger).Observe(duration.Seconds())
	m.refreshFailures.Set(float64(failures))
}

func (m *PrometheusMetrics) RecordFragmentFailure(_ context.Context, provider string) {
	m.fragmentFailures.WithLabelValues(provider).Inc()
}

func (m *PrometheusMetrics) RecordEmbedding(_ context.Context, operation string, duration time.Duration, err error) {
	m.embedDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.embedErrors.WithLabelValues(operation).Inc()
	}
}

func (m *PrometheusMetrics) RecordEmbeddingCache(_ context.Context, hit bool) {
	if hit {
		m.embedCacheHits.Inc()
		return
	}
	m.embedCacheMisses.Inc()
}

// NopMetrics discards everything. Used when metrics are disabled and in tests.
type NopMetrics struct{}

func (NopMetrics) RecordPromptRequest(context.Context, RequestLabels, time.Duration)          {}
func (NopMetrics) RecordProviderRefresh(context.Context, string, string, string, time.Duration) {}
func (NopMetrics) RecordRefreshCycle(context.Context, string, time.Duration, int)              {}
func (NopMetrics) RecordFragmentFailure(context.Context, string)                               {}
func (NopMetrics) RecordEmbedding(context.Context, string, time.Duration, error)               {}
func (NopMetrics) RecordEmbeddingCache(context.Context, bool)                                  {}
