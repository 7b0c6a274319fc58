package service

import (
	"context"
	"fmt"
	"io"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/filestore"
	"github.com/xxxsen/mrag/internal/metrics"
	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/parser"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/timeutil"
	"github.com/xxxsen/mrag/internal/status"
	"github.com/xxxsen/mrag/internal/vectorindex"
)

type IngestService struct {
	docs     DocumentStore
	chunks   ChunkStore
	files    filestore.Store
	embedder ai.IEmbedder
	index    vectorindex.Index
	splitter *ai.Splitter
	tracker  *status.Tracker
	answers  AnswerCache
}

func NewIngestService(docs DocumentStore, chunks ChunkStore, files filestore.Store, embedder ai.IEmbedder, index vectorindex.Index, splitter *ai.Splitter, tracker *status.Tracker) *IngestService {
	return &IngestService{
		docs:     docs,
		chunks:   chunks,
		files:    files,
		embedder: embedder,
		index:    index,
		splitter: splitter,
		tracker:  tracker,
	}
}

// WithAnswerCache clears c whenever a document becomes searchable.
func (s *IngestService) WithAnswerCache(c AnswerCache) *IngestService {
	s.answers = c
	return s
}

// Process runs the ingestion of one pending document. It never returns an
// error: the outcome is reported in the result, the document status and the
// status events.
func (s *IngestService) Process(ctx context.Context, docID string) *model.IngestResult {
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", docID))
	err := s.docs.Transition(ctx, docID, []model.DocumentStatus{model.DocumentStatusPending}, model.DocumentStatusProcessing, nil, timeutil.NowUnix())
	if err != nil {
		logger.Warn("document can not enter processing", zap.Error(err))
		return &model.IngestResult{DocumentID: docID, Error: err.Error()}
	}
	s.emit(docID, string(model.DocumentStatusProcessing), "processing started", 10, nil)

	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return s.fail(ctx, docID, fmt.Errorf("load document: %w", err), nil)
	}
	chunks, err := s.ingest(ctx, doc)
	if err != nil {
		return s.fail(ctx, docID, err, chunks)
	}

	now := timeutil.NowUnix()
	err = s.docs.Transition(ctx, docID, []model.DocumentStatus{model.DocumentStatusProcessing}, model.DocumentStatusProcessed, map[string]interface{}{
		"chunk_count":   len(chunks),
		"processed_at":  now,
		"error_message": "",
	}, now)
	if err != nil {
		return s.fail(ctx, docID, fmt.Errorf("mark processed: %w", err), chunks)
	}
	s.answersChanged()
	metrics.IngestChunks.Add(float64(len(chunks)))
	s.emit(docID, string(model.DocumentStatusProcessed), "document indexed", 100, map[string]interface{}{"chunks": len(chunks)})
	return &model.IngestResult{DocumentID: docID, Success: true, ChunkCount: len(chunks)}
}

// ingest returns the chunks it wrote even when it fails after storing them,
// so the caller removes exactly those rows and vectors.
func (s *IngestService) ingest(ctx context.Context, doc *model.Document) ([]model.Chunk, error) {
	p, mimeType, err := parser.ForFilename(doc.Filename)
	if err != nil {
		return nil, err
	}
	data, err := s.readFile(ctx, doc.StorageKey)
	if err != nil {
		return nil, err
	}
	sections, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	s.emit(doc.ID, model.IngestStatusParsing, "file parsed", 25, map[string]interface{}{"sections": len(sections)})

	chunks := s.buildChunks(doc, mimeType, sections)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no text content extracted", appErr.ErrFileProcessing)
	}
	s.emit(doc.ID, model.IngestStatusChunking, "text split into chunks", 40, map[string]interface{}{"chunks": len(chunks)})

	if err := s.chunks.CreateBatch(ctx, chunks); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	s.emit(doc.ID, model.IngestStatusStoring, "chunks stored", 60, nil)

	records := make([]vectorindex.Record, 0, len(chunks))
	for _, chunk := range chunks {
		emb, err := s.embedder.Embed(ctx, chunk.Content, ai.TaskTypeRetrievalDocument)
		if err != nil {
			return chunks, fmt.Errorf("embed chunk %d: %w", chunk.Index, err)
		}
		records = append(records, vectorindex.Record{
			ID:        chunk.ID,
			Embedding: emb,
			Content:   chunk.Content,
			Metadata:  chunk.Metadata,
		})
	}
	if _, err := s.index.Upsert(ctx, records); err != nil {
		return chunks, fmt.Errorf("upsert vectors: %w", err)
	}
	s.emit(doc.ID, model.IngestStatusEmbedding, "embeddings indexed", 80, nil)
	return chunks, nil
}

func (s *IngestService) readFile(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.files.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *IngestService) buildChunks(doc *model.Document, mimeType string, sections []parser.Section) []model.Chunk {
	now := timeutil.NowUnix()
	chunks := make([]model.Chunk, 0)
	for _, sec := range sections {
		for _, text := range s.splitter.Split(sec.Content) {
			idx := len(chunks)
			meta := map[string]interface{}{
				model.MetaSource:     doc.Filename,
				model.MetaChunkIndex: idx,
				model.MetaDocumentID: doc.ID,
				model.MetaMimeType:   mimeType,
			}
			var page *int
			if sec.Page != nil {
				p := *sec.Page
				page = &p
				meta[model.MetaPage] = p
			}
			if sec.Heading != "" {
				meta[model.MetaHeading] = sec.Heading
			}
			chunks = append(chunks, model.Chunk{
				ID:         newID(),
				DocumentID: doc.ID,
				Index:      idx,
				Content:    text,
				Page:       page,
				Metadata:   meta,
				Ctime:      now,
			})
		}
	}
	return chunks
}

// Abandon fails a document stuck in processing, for example after a crash
// interrupted its ingestion, and removes whatever it had stored. The status
// moves first, so an ingestion that is still running can not mark the
// document processed afterwards and cleans up its own vectors instead.
func (s *IngestService) Abandon(ctx context.Context, docID string, reason string) *model.IngestResult {
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", docID))
	cause := fmt.Errorf("%w: %s", appErr.ErrFileProcessing, reason)
	if err := s.markFailed(ctx, docID, cause); err != nil {
		logger.Warn("abandon document skipped", zap.Error(err))
		return &model.IngestResult{DocumentID: docID, Error: err.Error()}
	}
	logger.Error("ingest document abandoned", zap.Error(cause))
	ids, err := s.chunks.ListIDsByDocument(ctx, docID)
	if err != nil {
		logger.Warn("list chunks of abandoned document", zap.Error(err))
	}
	s.removeStored(ctx, docID, ids)
	s.emit(docID, string(model.DocumentStatusFailed), cause.Error(), 0, nil)
	return &model.IngestResult{DocumentID: docID, Error: cause.Error()}
}

func (s *IngestService) fail(ctx context.Context, docID string, cause error, stored []model.Chunk) *model.IngestResult {
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", docID))
	logger.Error("ingest document failed", zap.Error(cause))
	ids := make([]string, 0, len(stored))
	for _, chunk := range stored {
		ids = append(ids, chunk.ID)
	}
	s.removeStored(ctx, docID, ids)
	msg := cause.Error()
	if err := s.markFailed(ctx, docID, cause); err != nil {
		logger.Warn("mark document failed", zap.Error(err))
	} else {
		s.emit(docID, string(model.DocumentStatusFailed), msg, 0, nil)
	}
	return &model.IngestResult{DocumentID: docID, Error: msg}
}

func (s *IngestService) markFailed(ctx context.Context, docID string, cause error) error {
	return s.docs.Transition(ctx, docID, []model.DocumentStatus{model.DocumentStatusProcessing}, model.DocumentStatusFailed, map[string]interface{}{
		"error_message": cause.Error(),
		"chunk_count":   0,
	}, timeutil.NowUnix())
}

func (s *IngestService) removeStored(ctx context.Context, docID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", docID))
	if err := s.index.Delete(ctx, ids); err != nil {
		logger.Warn("remove vectors of failed document", zap.Error(err))
	}
	if _, err := s.chunks.DeleteByDocument(ctx, docID); err != nil {
		logger.Warn("remove chunks of failed document", zap.Error(err))
	}
}

func (s *IngestService) answersChanged() {
	if s.answers != nil {
		s.answers.Clear()
	}
}

func (s *IngestService) emit(id, st, msg string, progress int, data map[string]interface{}) {
	s.tracker.Emit(model.StatusTypeDocument, id, st, msg, progress, data)
}
