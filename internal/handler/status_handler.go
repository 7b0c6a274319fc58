package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/errcode"
	"github.com/xxxsen/mrag/internal/pkg/response"
	"github.com/xxxsen/mrag/internal/status"
)

const defaultKeepAlive = 15 * time.Second

type StatusHandler struct {
	tracker   *status.Tracker
	keepAlive time.Duration
}

func NewStatusHandler(tracker *status.Tracker) *StatusHandler {
	return &StatusHandler{tracker: tracker, keepAlive: defaultKeepAlive}
}

// Get returns the latest event for an id. The optional type query parameter
// picks between a document and a query that share the same id.
func (h *StatusHandler) Get(c *gin.Context) {
	typ, valid := statusType(c)
	if !valid {
		response.Error(c, errcode.ErrInvalid, "unknown status type")
		return
	}
	ev, ok := h.latest(typ, c.Param("id"))
	if !ok {
		response.Error(c, errcode.ErrNotFound, "no status for id")
		return
	}
	response.Success(c, ev)
}

// Stream pushes status events as server-sent events. The optional type and id
// query parameters narrow the stream; with an id the latest known event for
// it is sent first.
func (h *StatusHandler) Stream(c *gin.Context) {
	typ, valid := statusType(c)
	if !valid {
		response.Error(c, errcode.ErrInvalid, "unknown status type")
		return
	}
	id := c.Query("id")
	sub := h.tracker.Subscribe(typ, id)
	defer sub.Close()
	logger := logutil.GetLogger(c.Request.Context()).With(zap.String("filter_id", id))
	logger.Debug("status stream opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	if id != "" {
		if ev, ok := h.latest(typ, id); ok {
			c.SSEvent("status", ev)
		}
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				logger.Warn("status stream dropped, subscriber too slow")
				return false
			}
			c.SSEvent("status", ev)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UnixMilli())
			return true
		}
	})
	logger.Debug("status stream closed")
}

func (h *StatusHandler) latest(typ model.StatusType, id string) (model.StatusEvent, bool) {
	if typ == "" {
		return h.tracker.Lookup(id)
	}
	return h.tracker.Latest(typ, id)
}

func statusType(c *gin.Context) (model.StatusType, bool) {
	typ := model.StatusType(c.Query("type"))
	switch typ {
	case "", model.StatusTypeDocument, model.StatusTypeQuery, model.StatusTypeSystem:
		return typ, true
	}
	return "", false
}
