package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/errcode"
	"github.com/xxxsen/mrag/internal/pkg/response"
	"github.com/xxxsen/mrag/internal/service"
)

type QueryHandler struct {
	queries *service.QueryService
}

func NewQueryHandler(queries *service.QueryService) *QueryHandler {
	return &QueryHandler{queries: queries}
}

// queryRequest carries an optional client-chosen query_id so the caller can
// subscribe to its status events before the answer arrives.
type queryRequest struct {
	QueryID  string              `json:"query_id"`
	Question string              `json:"question"`
	Options  *model.QueryOptions `json:"options"`
	UseCache *bool               `json:"use_cache"`
}

type queryResponse struct {
	QueryID string `json:"query_id"`
	*model.GenerationResult
}

func (h *QueryHandler) Ask(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if len(req.QueryID) > 64 {
		response.Error(c, errcode.ErrInvalid, "query_id too long")
		return
	}
	if req.QueryID == "" {
		req.QueryID = uuid.NewString()
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	result, err := h.queries.Ask(c.Request.Context(), service.AskRequest{
		QueryID:  req.QueryID,
		Question: req.Question,
		Options:  req.Options,
		UseCache: useCache,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, queryResponse{QueryID: req.QueryID, GenerationResult: result})
}

func (h *QueryHandler) Logs(c *gin.Context) {
	limit, offset := parsePaging(c)
	logs, err := h.queries.ListLogs(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, logs)
}

func (h *QueryHandler) CacheStats(c *gin.Context) {
	response.Success(c, h.queries.CacheStats())
}

func (h *QueryHandler) ClearCache(c *gin.Context) {
	h.queries.ClearCache()
	response.Success(c, gin.H{"ok": true})
}
