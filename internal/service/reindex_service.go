package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/status"
	"github.com/xxxsen/mrag/internal/vectorindex"
)

const (
	reindexPageSize = 100
	reindexStatusID = "reindex"
)

type ReindexReport struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Failed    int `json:"failed"`
}

// ReindexService re-embeds the chunks of every processed document into the
// current vector index, for example after switching index backends or
// embedding models.
type ReindexService struct {
	docs     DocumentStore
	chunks   ChunkStore
	embedder ai.IEmbedder
	index    vectorindex.Index
	tracker  *status.Tracker
	running  atomic.Bool
}

func NewReindexService(docs DocumentStore, chunks ChunkStore, embedder ai.IEmbedder, index vectorindex.Index, tracker *status.Tracker) *ReindexService {
	return &ReindexService{docs: docs, chunks: chunks, embedder: embedder, index: index, tracker: tracker}
}

// Run reindexes synchronously. Only one run may be active at a time.
func (s *ReindexService) Run(ctx context.Context) (*ReindexReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: reindex already running", appErr.ErrConflict)
	}
	defer s.running.Store(false)
	return s.run(ctx)
}

// Start launches a run in the background; progress is published as system
// status events under the id "reindex".
func (s *ReindexService) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: reindex already running", appErr.ErrConflict)
	}
	go func() {
		defer s.running.Store(false)
		if _, err := s.run(ctx); err != nil {
			logutil.GetLogger(ctx).Error("background reindex failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *ReindexService) Running() bool {
	return s.running.Load()
}

func (s *ReindexService) run(ctx context.Context) (*ReindexReport, error) {
	logger := logutil.GetLogger(ctx)

	report := &ReindexReport{}
	s.tracker.Emit(model.StatusTypeSystem, reindexStatusID, "running", "reindex started", 0, nil)
	for offset := uint(0); ; offset += reindexPageSize {
		docs, err := s.docs.List(ctx, model.DocumentStatusProcessed, reindexPageSize, offset)
		if err != nil {
			s.tracker.Emit(model.StatusTypeSystem, reindexStatusID, "failed", err.Error(), 0, nil)
			return report, fmt.Errorf("list documents: %w", err)
		}
		for _, doc := range docs {
			n, err := s.reindexDocument(ctx, doc.ID)
			if err != nil {
				report.Failed++
				logger.Error("reindex document failed", zap.String("doc_id", doc.ID), zap.Error(err))
				continue
			}
			report.Documents++
			report.Chunks += n
			s.tracker.Emit(model.StatusTypeSystem, reindexStatusID, "running", "document reindexed", 50, map[string]interface{}{
				"documents": report.Documents,
				"chunks":    report.Chunks,
			})
		}
		if len(docs) < reindexPageSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
	s.tracker.Emit(model.StatusTypeSystem, reindexStatusID, "completed", "reindex finished", 100, map[string]interface{}{
		"documents": report.Documents,
		"chunks":    report.Chunks,
		"failed":    report.Failed,
	})
	logger.Info("reindex finished", zap.Int("documents", report.Documents), zap.Int("chunks", report.Chunks), zap.Int("failed", report.Failed))
	return report, nil
}

func (s *ReindexService) reindexDocument(ctx context.Context, docID string) (int, error) {
	chunks, err := s.chunks.ListByDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(chunks))
	records := make([]vectorindex.Record, 0, len(chunks))
	for _, chunk := range chunks {
		emb, err := s.embedder.Embed(ctx, chunk.Content, ai.TaskTypeRetrievalDocument)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d: %w", chunk.Index, err)
		}
		ids = append(ids, chunk.ID)
		records = append(records, vectorindex.Record{ID: chunk.ID, Embedding: emb, Content: chunk.Content, Metadata: chunk.Metadata})
	}
	if _, err := s.index.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}
	// A delete that finished while the chunks were embedding has already
	// cleared the index; take back what was just written.
	doc, err := s.docs.GetByID(ctx, docID)
	if err == nil && doc.Status == model.DocumentStatusProcessed {
		return len(records), nil
	}
	if err != nil && !errors.Is(err, appErr.ErrNotFound) {
		return 0, fmt.Errorf("recheck document: %w", err)
	}
	if err := s.index.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("remove vectors of deleted document: %w", err)
	}
	return 0, fmt.Errorf("%w: document removed during reindex", appErr.ErrNotFound)
}
