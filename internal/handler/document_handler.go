package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/errcode"
	"github.com/xxxsen/mrag/internal/pkg/response"
	"github.com/xxxsen/mrag/internal/service"
)

type DocumentHandler struct {
	documents *service.DocumentService
	maxUpload uploadLimit
}

func NewDocumentHandler(documents *service.DocumentService, maxUpload int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxUpload: uploadLimit(maxUpload)}
}

type uploadResponse struct {
	Document *model.Document    `json:"document"`
	Result   *model.IngestResult `json:"result,omitempty"`
}

// Upload accepts a multipart "file" field. With wait=true the response is
// held until ingestion finishes or the client goes away.
func (h *DocumentHandler) Upload(c *gin.Context) {
	h.maxUpload.guard(c)
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxUpload.exceeded(file.Size) {
		response.Error(c, errcode.ErrInvalidFile, "file exceeds "+h.maxUpload.String())
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "failed to open file")
		return
	}
	defer opened.Close()

	doc, results, err := h.documents.Upload(c.Request.Context(), file.Filename, opened, file.Size)
	if err != nil {
		handleError(c, err)
		return
	}
	out := uploadResponse{Document: doc}
	if c.Query("wait") == "true" {
		select {
		case res := <-results:
			out.Result = res
		case <-c.Request.Context().Done():
			return
		}
	}
	response.Success(c, out)
}

func (h *DocumentHandler) List(c *gin.Context) {
	limit, offset := parsePaging(c)
	docs, err := h.documents.List(c.Request.Context(), model.DocumentStatus(c.Query("status")), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Chunks(c *gin.Context) {
	chunks, err := h.documents.Chunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, chunks)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
