// Package metrics defines the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mateai_events_ingested_total",
		Help: "Raw events persisted, by source",
	}, []string{"source"})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mateai_events_dropped_total",
		Help: "Adapter events dropped as duplicates, by source",
	}, []string{"source"})

	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mateai_jobs_completed_total",
		Help: "Queue jobs completed, by queue",
	}, []string{"queue"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mateai_jobs_failed_total",
		Help: "Queue job failures (including retried attempts), by queue",
	}, []string{"queue"})
	JobsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mateai_jobs_dead_letter_total",
		Help: "Queue jobs moved to the dead list, by queue",
	}, []string{"queue"})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mateai_queue_depth",
		Help: "Current pending depth per queue",
	}, []string{"queue"})

	PipelineDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mateai_pipeline_duration_seconds",
		Help:    "End-to-end processing duration per event",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	SummaryFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mateai_summary_fallbacks_total",
		Help: "Summaries produced by truncation because the LLM call failed",
	})

	ChunksStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mateai_chunks_stored_total",
		Help: "Knowledge chunks written to the store",
	})
	ChunksDemoted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mateai_chunks_demoted_total",
		Help: "Chunks demoted by the lifecycle job, by transition",
	}, []string{"transition"})

	SearchRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mateai_search_requests_total",
		Help: "Retrieval searches served",
	})
	AgentQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mateai_agent_queries_total",
		Help: "Agent queries by outcome (success, iteration_limit, error)",
	}, []string{"outcome"})
	LLMTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mateai_llm_tokens_total",
		Help: "LLM tokens consumed, by provider and direction",
	}, []string{"provider", "direction"})
)

// Register installs all collectors on the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsIngested, EventsDropped,
		JobsCompleted, JobsFailed, JobsDeadLettered, QueueDepth,
		PipelineDuration, SummaryFallbacks,
		ChunksStored, ChunksDemoted,
		SearchRequests, AgentQueries, LLMTokens,
	)
}
