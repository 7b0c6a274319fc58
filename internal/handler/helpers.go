package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/middleware"
	"github.com/xxxsen/mrag/internal/pkg/errcode"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/response"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, err.Error())
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, "too many requests")
	case errors.Is(err, appErr.ErrQueueFull):
		response.Error(c, errcode.ErrQueueFull, "ingest queue is full, retry later")
	case errors.Is(err, appErr.ErrUnsupportedFileType):
		response.Error(c, errcode.ErrUnsupportedFile, err.Error())
	case errors.Is(err, appErr.ErrFileProcessing):
		response.Error(c, errcode.ErrInvalidFile, err.Error())
	case errors.Is(err, ai.ErrUnavailable):
		logger.Error("ai provider unavailable")
		response.Error(c, errcode.ErrAIUnavailable, "language model unavailable")
	default:
		logger.Error("request failed")
		response.Error(c, errcode.ErrInternal, "internal error")
		return
	}
	logger.Debug("request rejected")
}

func parsePaging(c *gin.Context) (uint, uint) {
	limit := uint(defaultPageSize)
	if value := c.Query("limit"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			limit = uint(parsed)
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := uint(0)
	if value := c.Query("offset"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			offset = uint(parsed)
		}
	}
	return limit, offset
}
