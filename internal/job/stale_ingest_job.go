package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/model"
)

const staleBatchSize = 100

type StaleLister interface {
	ListStaleProcessing(ctx context.Context, cutoff int64, limit uint) ([]model.Document, error)
}

type Abandoner interface {
	Abandon(ctx context.Context, docID string, reason string) *model.IngestResult
}

// StaleIngestJob fails documents that stayed in processing longer than
// maxAge, which only happens when the process died mid-ingestion.
type StaleIngestJob struct {
	docs   StaleLister
	ingest Abandoner
	maxAge time.Duration
	now    func() time.Time
}

func NewStaleIngestJob(docs StaleLister, ingest Abandoner, maxAge time.Duration) *StaleIngestJob {
	return &StaleIngestJob{docs: docs, ingest: ingest, maxAge: maxAge, now: time.Now}
}

func (j *StaleIngestJob) Name() string {
	return "stale_ingest"
}

func (j *StaleIngestJob) Run(ctx context.Context) error {
	if j.maxAge <= 0 {
		return nil
	}
	cutoff := j.now().Add(-j.maxAge).Unix()
	docs, err := j.docs.ListStaleProcessing(ctx, cutoff, staleBatchSize)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx)
	for _, doc := range docs {
		logger.Warn("abandoning stale ingestion", zap.String("doc_id", doc.ID), zap.String("filename", doc.Filename))
		j.ingest.Abandon(ctx, doc.ID, "ingestion interrupted")
	}
	return nil
}
