// Package metrics provides Prometheus metrics for monitoring.
// Exports HTTP, AI generation, credit, workflow and publishing metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors
type Metrics struct {
	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Content generation
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	GenerationTokens   *prometheus.CounterVec
	CacheHitsTotal     *prometheus.CounterVec
	ProviderHealth     *prometheus.GaugeVec
	ProviderFallbacks  *prometheus.CounterVec

	// Credits
	CreditsGranted  prometheus.Counter
	CreditsConsumed prometheus.Counter
	LedgerConflicts prometheus.Counter

	// Workflows
	WorkflowRunsTotal   *prometheus.CounterVec
	WorkflowRunDuration *prometheus.HistogramVec

	// Publishing
	PostsPublishedTotal *prometheus.CounterVec
	PublishFailures     prometheus.Counter

	// Database
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sevencycles",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sevencycles",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "content",
			Name:      "generations_total",
			Help:      "Content generations by artifact type, provider, and result",
		},
		[]string{"type", "provider", "result"},
	)

	m.GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sevencycles",
			Subsystem: "content",
			Name:      "generation_duration_seconds",
			Help:      "End-to-end generation duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type"},
	)

	m.GenerationTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "content",
			Name:      "tokens_total",
			Help:      "Tokens used by provider, model, and direction",
		},
		[]string{"provider", "model", "direction"},
	)

	m.CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "content",
			Name:      "cache_hits_total",
			Help:      "Generations answered from the content hash cache",
		},
		[]string{"type"},
	)

	m.ProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sevencycles",
			Subsystem: "ai",
			Name:      "provider_health",
			Help:      "AI provider health (1 healthy, 0 unhealthy)",
		},
		[]string{"provider"},
	)

	m.ProviderFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "ai",
			Name:      "fallbacks_total",
			Help:      "Requests that fell through to a secondary provider",
		},
		[]string{"from", "to"},
	)

	m.CreditsGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "credits",
			Name:      "granted_total",
			Help:      "Credits granted across all organizations",
		},
	)

	m.CreditsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "credits",
			Name:      "consumed_total",
			Help:      "Credits consumed across all organizations",
		},
	)

	m.LedgerConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "credits",
			Name:      "ledger_conflicts_total",
			Help:      "Optimistic concurrency conflicts in the credit ledger",
		},
	)

	m.WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "workflows",
			Name:      "runs_total",
			Help:      "Workflow runs by workflow and final status",
		},
		[]string{"workflow", "status"},
	)

	m.WorkflowRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sevencycles",
			Subsystem: "workflows",
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"workflow"},
	)

	m.PostsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "publishing",
			Name:      "posts_total",
			Help:      "Published posts by platform",
		},
		[]string{"platform"},
	)

	m.PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sevencycles",
			Subsystem: "publishing",
			Name:      "failures_total",
			Help:      "Publish attempts that failed",
		},
	)

	m.DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sevencycles",
			Subsystem: "db",
			Name:      "connections_active",
			Help:      "Active database connections",
		},
	)

	m.DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sevencycles",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Idle database connections",
		},
	)

	return m
}

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordGeneration records one content generation.
func (m *Metrics) RecordGeneration(artifactType, provider, result string, duration time.Duration) {
	m.GenerationsTotal.WithLabelValues(artifactType, provider, result).Inc()
	m.GenerationDuration.WithLabelValues(artifactType).Observe(duration.Seconds())
}

// RecordWorkflowRun records one finished workflow run.
func (m *Metrics) RecordWorkflowRun(workflow, status string, duration time.Duration) {
	m.WorkflowRunsTotal.WithLabelValues(workflow, status).Inc()
	m.WorkflowRunDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
