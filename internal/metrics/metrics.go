package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Total number of conversation turns by final action",
		},
		[]string{"action", "status"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_turn_duration_seconds",
			Help:    "Turn processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"action"},
	)

	TurnsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_rejected_total",
			Help: "Turns rejected before processing",
		},
		[]string{"reason"},
	)

	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_routing_decisions_total",
			Help: "Routing decisions by action and source (oracle, heuristic, local)",
		},
		[]string{"action", "source"},
	)

	UnknownRoutingActions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_unknown_routing_actions_total",
			Help: "Oracle decisions with an action outside the known set",
		},
	)

	PrerequisiteDowngrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_prerequisite_downgrades_total",
			Help: "Routing actions downgraded because a prerequisite was missing",
		},
		[]string{"from", "to"},
	)

	RoutingErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_routing_errors_total",
			Help: "Failures of the decision oracle",
		},
	)

	// Agent metrics
	AgentInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_agent_invocations_total",
			Help: "Task agent invocations by capability and outcome",
		},
		[]string{"capability", "status"},
	)

	AgentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_agent_duration_seconds",
			Help:    "Task agent invocation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"capability"},
	)

	AgentRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_agent_retries_total",
			Help: "Retry attempts issued by task agents",
		},
		[]string{"capability"},
	)

	AgentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_agent_fallbacks_total",
			Help: "Fallback results returned after retries were exhausted",
		},
		[]string{"capability"},
	)

	ParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_parse_failures_total",
			Help: "Structured response parse failures by component and class",
		},
		[]string{"component", "kind"},
	)

	// Generator metrics
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_generation_requests_total",
			Help: "Generator calls by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_generation_duration_seconds",
			Help:    "Generator call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	GenerationTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_generation_tokens_total",
			Help: "Tokens reported by the generator backend",
		},
		[]string{"provider"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_sessions_deleted_total",
			Help: "Total number of sessions reset",
		},
	)

	SessionStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_session_store_operations_total",
			Help: "Session store operations by backend, operation and outcome",
		},
		[]string{"backend", "operation", "status"},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_session_cache_hits_total",
			Help: "Total number of session cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_session_cache_misses_total",
			Help: "Total number of session cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_session_cache_size",
			Help: "Current number of sessions in local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_session_cache_evictions_total",
			Help: "Total number of sessions evicted from local cache",
		},
	)

	// Profile metrics
	ProfileLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_profile_lookups_total",
			Help: "Subject profile lookups by outcome",
		},
		[]string{"status"},
	)

	ProfileCatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_profile_catalog_size",
			Help: "Number of profiles currently loaded in the catalog",
		},
	)

	// Audit log metrics
	TurnLogWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turn_log_writes_total",
			Help: "Turn audit log writes by outcome",
		},
		[]string{"status"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_http_requests_total",
			Help: "Chat API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_rate_limited_requests_total",
			Help: "Chat API requests rejected by the rate limiter",
		},
	)

	// Health metrics
	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_component_health",
			Help: "Last health check status per component (0=healthy, 1=degraded, 2=unhealthy, 3=unknown)",
		},
		[]string{"component"},
	)
)

// RecordTurn records metrics for a completed turn
func RecordTurn(action, status string, durationSeconds float64) {
	TurnsTotal.WithLabelValues(action, status).Inc()
	TurnDuration.WithLabelValues(action).Observe(durationSeconds)
}

// RecordAgentInvocation records metrics for a task agent invocation
func RecordAgentInvocation(capability, status string, durationSeconds float64, retries int) {
	AgentInvocations.WithLabelValues(capability, status).Inc()
	AgentDuration.WithLabelValues(capability).Observe(durationSeconds)
	if retries > 0 {
		AgentRetries.WithLabelValues(capability).Add(float64(retries))
	}
}

// RecordGeneration records metrics for a generator call
func RecordGeneration(provider, status string, durationSeconds float64) {
	GenerationRequests.WithLabelValues(provider, status).Inc()
	GenerationDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordGenerationTokens adds backend-reported token usage
func RecordGenerationTokens(provider string, tokens int) {
	if tokens > 0 {
		GenerationTokens.WithLabelValues(provider).Add(float64(tokens))
	}
}

// RecordSessionOp records a session store operation
func RecordSessionOp(backend, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SessionStoreOps.WithLabelValues(backend, operation, status).Inc()
}
