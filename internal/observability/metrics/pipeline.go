package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets spans typical completion latencies, 100ms to 2 minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	taskExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solagent_task_executions_total",
			Help: "Orchestrated task executions by capability, terminal stage and status.",
		},
		[]string{"capability", "stage", "status"},
	)

	backendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solagent_backend_calls_total",
			Help: "Completion backend calls by outcome.",
		},
		[]string{"backend", "dialect", "outcome"},
	)

	backendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solagent_backend_latency_seconds",
			Help:    "Completion backend latency.",
			Buckets: LLMBuckets,
		},
		[]string{"backend"},
	)

	capabilityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solagent_capability_duration_seconds",
			Help:    "Capability execution duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"capability", "status"},
	)

	contextEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solagent_context_entries",
			Help: "Entries held by the conversation context store.",
		},
	)
)

func init() {
	prometheus.MustRegister(taskExecutions, backendCalls, backendLatency, capabilityDuration, contextEntries)
}

// ObserveTask counts one orchestrated execution that ended at stage.
func ObserveTask(capability, stage, status string) {
	taskExecutions.WithLabelValues(capability, stage, status).Inc()
}

func ObserveBackendCall(backend, dialect, outcome string, d time.Duration) {
	backendCalls.WithLabelValues(backend, dialect, outcome).Inc()
	backendLatency.WithLabelValues(backend).Observe(d.Seconds())
}

func ObserveCapability(capability, status string, d time.Duration) {
	capabilityDuration.WithLabelValues(capability, status).Observe(d.Seconds())
}

// SetContextEntries publishes the current context store size.
func SetContextEntries(n int) {
	contextEntries.Set(float64(n))
}

var asyncTasks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "solagent_async_tasks_total",
		Help: "Queued task transitions by status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(asyncTasks)
}

// ObserveAsyncTask counts a queued task reaching status.
func ObserveAsyncTask(status string) {
	asyncTasks.WithLabelValues(status).Inc()
}
