// Package observability provides Prometheus metrics for kreide.
// The metrics are registered on the default registry; the sandbox
// server exposes them at /metrics.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference and
// remote code execution latencies, ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ChatRequestsTotal counts completion calls to the chat backend.
	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kreide_chat_requests_total",
			Help: "Chat completion requests",
		},
		[]string{"model", "status"},
	)

	// ChatLatency records chat backend latency in seconds.
	ChatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kreide_chat_latency_seconds",
			Help:    "Chat completion latency",
			Buckets: LLMBuckets,
		},
		[]string{"model"},
	)

	// ChatTokensTotal counts tokens processed by direction (input/output).
	ChatTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kreide_chat_tokens_total",
			Help: "Token count",
		},
		[]string{"model", "direction"},
	)

	// ExecutionsTotal counts sandbox cell executions by outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kreide_executions_total",
			Help: "Sandbox cell executions",
		},
		[]string{"status"},
	)

	// ExecutionLatency records sandbox cell execution latency in seconds.
	ExecutionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kreide_execution_latency_seconds",
			Help:    "Sandbox cell execution latency",
			Buckets: LLMBuckets,
		},
	)

	// ArtifactsTotal counts result artifacts returned by cells, by kind.
	ArtifactsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kreide_artifacts_total",
			Help: "Result artifacts",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		ChatRequestsTotal,
		ChatLatency,
		ChatTokensTotal,
		ExecutionsTotal,
		ExecutionLatency,
		ArtifactsTotal,
	)
}
