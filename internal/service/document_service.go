package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/filestore"
	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/parser"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/timeutil"
	"github.com/xxxsen/mrag/internal/status"
	"github.com/xxxsen/mrag/internal/vectorindex"
	"github.com/xxxsen/mrag/internal/worker"
)

type DocumentService struct {
	docs      DocumentStore
	chunks    ChunkStore
	files     filestore.Store
	index     vectorindex.Index
	queue     IngestQueue
	tracker   *status.Tracker
	answers   AnswerCache
	maxUpload int64
}

func NewDocumentService(docs DocumentStore, chunks ChunkStore, files filestore.Store, index vectorindex.Index, queue IngestQueue, tracker *status.Tracker, maxUpload int64) *DocumentService {
	return &DocumentService{
		docs:      docs,
		chunks:    chunks,
		files:     files,
		index:     index,
		queue:     queue,
		tracker:   tracker,
		maxUpload: maxUpload,
	}
}

// WithAnswerCache clears c after a document is deleted, so cached answers
// stop citing it.
func (s *DocumentService) WithAnswerCache(c AnswerCache) *DocumentService {
	s.answers = c
	return s
}

// Upload stores the file, records a pending document and queues it for
// ingestion. The returned channel yields the ingestion result.
func (s *DocumentService) Upload(ctx context.Context, filename string, r io.ReadSeeker, size int64) (*model.Document, <-chan *model.IngestResult, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, nil, fmt.Errorf("%w: filename is required", appErr.ErrInvalid)
	}
	_, mimeType, err := parser.ForFilename(name)
	if err != nil {
		return nil, nil, err
	}
	if size <= 0 {
		return nil, nil, fmt.Errorf("%w: file is empty", appErr.ErrInvalid)
	}
	if s.maxUpload > 0 && size > s.maxUpload {
		return nil, nil, fmt.Errorf("%w: file exceeds %d bytes", appErr.ErrInvalid, s.maxUpload)
	}
	logger := logutil.GetLogger(ctx)

	id := newID()
	doc := &model.Document{
		ID:         id,
		Filename:   name,
		StorageKey: id + strings.ToLower(filepath.Ext(name)),
		MimeType:   mimeType,
		Size:       size,
		Status:     model.DocumentStatusPending,
		Ctime:      timeutil.NowUnix(),
	}
	if err := s.files.Save(ctx, doc.StorageKey, r, size); err != nil {
		return nil, nil, fmt.Errorf("save file: %w", err)
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.removeFile(ctx, doc.StorageKey)
		return nil, nil, fmt.Errorf("create document: %w", err)
	}
	ch, err := s.queue.Submit(id)
	if err != nil {
		logger.Warn("queue document failed", zap.String("doc_id", id), zap.Error(err))
		if delErr := s.docs.Delete(ctx, id); delErr != nil {
			logger.Error("remove unqueued document failed", zap.String("doc_id", id), zap.Error(delErr))
		}
		s.removeFile(ctx, doc.StorageKey)
		if errors.Is(err, worker.ErrQueueFull) {
			return nil, nil, fmt.Errorf("%w: %v", appErr.ErrQueueFull, err)
		}
		return nil, nil, err
	}
	s.tracker.Emit(model.StatusTypeDocument, id, string(model.DocumentStatusPending), "document queued", 0, map[string]interface{}{"filename": name})
	logger.Info("document queued", zap.String("doc_id", id), zap.String("filename", name), zap.Int64("size", size))
	return doc, ch, nil
}

// ResumePending re-queues documents left pending by a previous run.
func (s *DocumentService) ResumePending(ctx context.Context) (int, error) {
	docs, err := s.docs.List(ctx, model.DocumentStatusPending, 0, 0)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, doc := range docs {
		if _, err := s.queue.Submit(doc.ID); err != nil {
			logutil.GetLogger(ctx).Warn("requeue pending document failed", zap.String("doc_id", doc.ID), zap.Error(err))
			continue
		}
		queued++
	}
	return queued, nil
}

// Import uploads a file from the local filesystem.
func (s *DocumentService) Import(ctx context.Context, path string) (*model.Document, <-chan *model.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is a directory", appErr.ErrInvalid, path)
	}
	return s.Upload(ctx, filepath.Base(path), f, info.Size())
}

func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.docs.GetByID(ctx, id)
}

func (s *DocumentService) List(ctx context.Context, st model.DocumentStatus, limit, offset uint) ([]model.Document, error) {
	return s.docs.List(ctx, st, limit, offset)
}

func (s *DocumentService) Chunks(ctx context.Context, id string) ([]model.Chunk, error) {
	if _, err := s.docs.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, id)
}

// Delete moves the document to deleting, conditioned on the status it was
// read with, so a worker can not pick it up halfway. Vectors go first, then
// the document row with its chunks, then the stored file. A vector deletion
// failure restores the previous status and leaves everything in place.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status == model.DocumentStatusProcessing {
		return fmt.Errorf("%w: document is being processed", appErr.ErrConflict)
	}
	err = s.docs.Transition(ctx, id, []model.DocumentStatus{doc.Status}, model.DocumentStatusDeleting, nil, timeutil.NowUnix())
	if errors.Is(err, appErr.ErrConflict) {
		return fmt.Errorf("%w: document status changed during delete", appErr.ErrConflict)
	}
	if err != nil {
		return err
	}
	ids, err := s.chunks.ListIDsByDocument(ctx, id)
	if err == nil {
		err = s.index.Delete(ctx, ids)
	}
	if err != nil {
		s.restoreStatus(ctx, id, doc.Status)
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if s.answers != nil {
		s.answers.Clear()
	}
	s.removeFile(ctx, doc.StorageKey)
	s.tracker.Emit(model.StatusTypeDocument, id, "deleted", "document deleted", 100, map[string]interface{}{"chunks": len(ids)})
	logutil.GetLogger(ctx).Info("document deleted", zap.String("doc_id", id), zap.Int("chunks", len(ids)))
	return nil
}

func (s *DocumentService) restoreStatus(ctx context.Context, id string, st model.DocumentStatus) {
	err := s.docs.Transition(ctx, id, []model.DocumentStatus{model.DocumentStatusDeleting}, st, nil, timeutil.NowUnix())
	if err != nil {
		logutil.GetLogger(ctx).Error("restore document status failed", zap.String("doc_id", id), zap.String("status", string(st)), zap.Error(err))
	}
}

func (s *DocumentService) removeFile(ctx context.Context, key string) {
	if err := s.files.Delete(ctx, key); err != nil {
		logutil.GetLogger(ctx).Warn("delete stored file failed", zap.String("key", key), zap.Error(err))
	}
}
