package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const day = 24 * time.Hour

type ExpiringStore interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

// RetentionJob deletes rows whose ctime is older than maxAge. A zero maxAge
// or a nil store turns the job into a no-op.
type RetentionJob struct {
	name   string
	what   string
	store  ExpiringStore
	maxAge time.Duration
	now    func() time.Time
}

func newRetentionJob(name, what string, store ExpiringStore, maxAge time.Duration) *RetentionJob {
	return &RetentionJob{name: name, what: what, store: store, maxAge: maxAge, now: time.Now}
}

// NewEmbeddingCacheCleanupJob drops cached embeddings older than maxAgeDays,
// 30 when unset.
func NewEmbeddingCacheCleanupJob(store ExpiringStore, maxAgeDays int) *RetentionJob {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	return newRetentionJob("embedding_cache_cleanup", "cached embeddings", store, time.Duration(maxAgeDays)*day)
}

func NewQueryLogCleanupJob(store ExpiringStore, retentionDays int) *RetentionJob {
	return newRetentionJob("query_log_cleanup", "query logs", store, time.Duration(max(retentionDays, 0))*day)
}

func (j *RetentionJob) Name() string {
	return j.name
}

func (j *RetentionJob) Run(ctx context.Context) error {
	if j.store == nil || j.maxAge <= 0 {
		return nil
	}
	n, err := j.store.DeleteBefore(ctx, j.now().Add(-j.maxAge).Unix())
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("expired rows removed", zap.String("table", j.what), zap.Int64("rows", n))
	}
	return nil
}
