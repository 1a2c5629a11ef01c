package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the Prometheus counters/gauges Aurora Pro's
// components update. spec.md treats the Prometheus HTTP text-format
// endpoint as an out-of-scope external collaborator ("referenced by
// contract only") — what IS in scope is producing these series in
// the first place, which is what the Heartbeat Supervisor and
// Control Plane do through this type.
type Metrics struct {
	Registry *prometheus.Registry

	ComponentHealth  *prometheus.GaugeVec
	ComponentErrors  *prometheus.CounterVec
	Recoveries       *prometheus.CounterVec
	HeartbeatTicks   prometheus.Counter
	TasksTotal       *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	EmergencyStops   prometheus.Counter

	once sync.Once
}

// NewMetrics registers a fresh set of collectors against a private
// registry (never the global default registry, so multiple Aurora
// instances in one test binary don't collide).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ComponentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aurora_component_health",
			Help: "1 if the component last reported healthy, 0 otherwise.",
		}, []string{"component"}),
		ComponentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_component_errors_total",
			Help: "Errors recorded against a component by the heartbeat supervisor.",
		}, []string{"component"}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_component_recoveries_total",
			Help: "Recovery events recorded against a component.",
		}, []string{"component", "kind"}),
		HeartbeatTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_heartbeat_ticks_total",
			Help: "Number of heartbeat ticks completed.",
		}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_cli_tasks_total",
			Help: "CLI tasks processed by the broker, by agent and terminal status.",
		}, []string{"agent", "status"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_llm_provider_requests_total",
			Help: "LLM requests issued, by provider.",
		}, []string{"provider"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_llm_provider_errors_total",
			Help: "LLM request errors, by provider.",
		}, []string{"provider"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aurora_llm_provider_latency_ms",
			Help:    "LLM request latency in milliseconds, by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_cache_hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_cache_misses_total",
			Help: "Cache misses by namespace; memory-tier evictions are also counted here under namespace \"eviction\".",
		}, []string{"namespace"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aurora_action_duration_ms",
			Help:    "Action execution duration in milliseconds, by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		EmergencyStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_emergency_stops_total",
			Help: "Number of emergency stop invocations that actually executed the fan-out.",
		}),
	}

	reg.MustRegister(
		m.ComponentHealth, m.ComponentErrors, m.Recoveries, m.HeartbeatTicks,
		m.TasksTotal, m.ProviderRequests, m.ProviderErrors, m.ProviderLatency,
		m.CacheHits, m.CacheMisses, m.ActionDuration, m.EmergencyStops,
	)
	return m
}
