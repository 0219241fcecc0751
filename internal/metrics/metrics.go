// Package metrics registers the Prometheus collectors shared by the event
// engine and the chunk cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide collectors. A single instance is created at
// startup and passed to the components that record into it.
type Metrics struct {
	Registry *prometheus.Registry

	EventsEnqueued   *prometheus.CounterVec
	EventsDeduped    *prometheus.CounterVec
	EventsDispatched *prometheus.CounterVec
	EventsCancelled  prometheus.Counter
	QueueDepth       prometheus.Gauge
	RunningJobs      prometheus.Gauge

	WorkerRuns     *prometheus.CounterVec
	WorkerFailures *prometheus.CounterVec

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheBytes     prometheus.Gauge

	TasksProcessed *prometheus.CounterVec
}

// New creates the registry and all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		EventsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harborr_events_enqueued_total",
			Help: "Events accepted into the queue, by emitter.",
		}, []string{"emitter"}),
		EventsDeduped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harborr_events_deduped_total",
			Help: "Events rejected at enqueue time, by reason.",
		}, []string{"reason"}),
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harborr_events_dispatched_total",
			Help: "Events handed to a service executor, by service.",
		}, []string{"service"}),
		EventsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "harborr_events_cancelled_total",
			Help: "Jobs cancelled via cancel_job.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "harborr_event_queue_depth",
			Help: "Events currently waiting in the queue.",
		}),
		RunningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "harborr_running_jobs",
			Help: "Items currently being processed by a worker.",
		}),
		WorkerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harborr_worker_runs_total",
			Help: "Worker invocations, by service.",
		}, []string{"service"}),
		WorkerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harborr_worker_failures_total",
			Help: "Worker invocations that yielded no result, by service.",
		}, []string{"service"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "harborr_chunk_cache_hits_total",
			Help: "Chunk cache reads served in full.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "harborr_chunk_cache_misses_total",
			Help: "Chunk cache reads that could not be served.",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "harborr_chunk_cache_evictions_total",
			Help: "Chunks evicted by the LRU or TTL policy.",
		}),
		CacheBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "harborr_chunk_cache_bytes",
			Help: "Bytes currently accounted for in the chunk cache.",
		}),
		TasksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harborr_scheduled_tasks_processed_total",
			Help: "Due scheduled tasks processed, by outcome.",
		}, []string{"outcome"}),
	}
}
