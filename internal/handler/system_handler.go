package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mrag/internal/pkg/response"
	"github.com/xxxsen/mrag/internal/querycache"
	"github.com/xxxsen/mrag/internal/service"
	"github.com/xxxsen/mrag/internal/status"
)

const healthPingTimeout = 2 * time.Second

type Pinger interface {
	PingContext(ctx context.Context) error
}

type QueueInspector interface {
	Pending() int
}

type RowCounter interface {
	Count(ctx context.Context) (int64, error)
}

type SystemHandler struct {
	db        Pinger
	indexName string
	queries   *service.QueryService
	queue     QueueInspector
	tracker   *status.Tracker
	reindex   *service.ReindexService
	embedding RowCounter
}

func NewSystemHandler(db Pinger, indexName string, queries *service.QueryService, queue QueueInspector, tracker *status.Tracker, reindex *service.ReindexService) *SystemHandler {
	return &SystemHandler{
		db:        db,
		indexName: indexName,
		queries:   queries,
		queue:     queue,
		tracker:   tracker,
		reindex:   reindex,
	}
}

type healthResponse struct {
	Status         string           `json:"status"`
	Database       string           `json:"database"`
	VectorIndex    string           `json:"vector_index"`
	QueryCache     querycache.Stats `json:"query_cache"`
	IngestPending  int              `json:"ingest_pending"`
	Subscribers    int              `json:"status_subscribers"`
	ReindexRunning bool             `json:"reindex_running"`
	EmbeddingsKept *int64           `json:"embeddings_cached,omitempty"`
}

func (h *SystemHandler) Health(c *gin.Context) {
	out := healthResponse{
		Status:      "ok",
		Database:    "ok",
		VectorIndex: h.indexName,
		QueryCache:  h.queries.CacheStats(),
		Subscribers: h.tracker.SubscriberCount(),
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			out.Status = "degraded"
			out.Database = err.Error()
		}
	}
	if h.queue != nil {
		out.IngestPending = h.queue.Pending()
	}
	if h.reindex != nil {
		out.ReindexRunning = h.reindex.Running()
	}
	if h.embedding != nil {
		if n, err := h.embedding.Count(c.Request.Context()); err == nil {
			out.EmbeddingsKept = &n
		}
	}
	response.Success(c, out)
}

// WithEmbeddingCache reports the persisted embedding count in the health
// response.
func (h *SystemHandler) WithEmbeddingCache(c RowCounter) *SystemHandler {
	h.embedding = c
	return h
}

// Reindex starts a background reindex detached from the request.
func (h *SystemHandler) Reindex(c *gin.Context) {
	if err := h.reindex.Start(context.Background()); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"started": true, "status_id": "reindex"})
}
