package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_requests_total",
			Help: "Total number of orchestration requests",
		},
		[]string{"task_type", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentive_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	RequestAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contentive_request_attempts",
			Help:    "Model invocations per logical request",
			Buckets: []float64{1, 2, 3, 4},
		},
	)

	// Model client metrics
	ModelInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_model_invocations_total",
			Help: "Total number of model invocations",
		},
		[]string{"provider", "model", "status"},
	)

	ModelInvocationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentive_model_invocation_latency_ms",
			Help:    "Model invocation latency in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000, 30000},
		},
		[]string{"provider"},
	)

	TokensConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_tokens_consumed_total",
			Help: "Total tokens consumed across all invocations",
		},
		[]string{"direction"},
	)

	// Validation and repair metrics
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_validation_failures_total",
			Help: "Output schema validation failures",
		},
		[]string{"reason"},
	)

	RepairAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contentive_repair_attempts_total",
			Help: "Retry attempts carrying a correction instruction",
		},
	)

	// Safety metrics
	SafetyBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_safety_blocks_total",
			Help: "Requests blocked by the safety filter",
		},
		[]string{"stage"},
	)

	// Budget metrics
	BudgetRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contentive_budget_rejections_total",
			Help: "Requests rejected at budget admission",
		},
	)

	UsageRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_usage_records_total",
			Help: "Usage records committed by outcome",
		},
		[]string{"outcome"},
	)

	// Session memory metrics
	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contentive_session_cache_hits_total",
			Help: "Session memory local cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contentive_session_cache_misses_total",
			Help: "Session memory local cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contentive_session_cache_size",
			Help: "Entries currently held in the session local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contentive_session_cache_evictions_total",
			Help: "Entries evicted from the session local cache",
		},
	)

	// Template metrics
	TemplatesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_templates_loaded_total",
			Help: "Templates successfully loaded into the registry",
		},
		[]string{"task_type"},
	)

	TemplateValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_template_validation_errors_total",
			Help: "Template load/validation failures by code",
		},
		[]string{"code"},
	)

	// Pricing metrics
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_pricing_fallbacks_total",
			Help: "Cost computations that fell back to default pricing",
		},
		[]string{"reason"},
	)

	// Circuit breaker metrics
	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentive_circuit_breaker_trips_total",
			Help: "Circuit breaker transitions into the open state",
		},
		[]string{"name"},
	)
)
