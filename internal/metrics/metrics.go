package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueryCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrag_query_cache_requests_total",
		Help: "Query cache lookups by result",
	}, []string{"result"}) // hit or miss

	EmbeddingCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrag_embedding_cache_lookups_total",
		Help: "Embedding cache lookups by layer and result",
	}, []string{"layer", "result"})

	RetrievalFilterFallback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mrag_retrieval_filter_fallback_total",
		Help: "Filtered similarity searches that failed and were retried without the filter",
	})

	QueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrag_query_total",
		Help: "Answered questions by outcome",
	}, []string{"outcome"})

	QueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mrag_query_duration_seconds",
		Help:    "End to end latency of uncached questions",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrag_ingest_total",
		Help: "Finished ingestion tasks by result",
	}, []string{"result"})

	IngestChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mrag_ingest_chunks_total",
		Help: "Chunks written by successful ingestions",
	})

	IngestQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mrag_ingest_queue_depth",
		Help: "Documents waiting for an ingestion worker",
	})

	StatusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mrag_status_subscribers",
		Help: "Active status stream subscribers",
	})

	StatusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mrag_status_subscribers_dropped_total",
		Help: "Subscribers removed because their buffer was full",
	})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrag_job_runs_total",
		Help: "Maintenance job runs by outcome",
	}, []string{"job", "result"}) // ok, error or skipped

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mrag_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"method", "route", "code"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mrag_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
