package embedcache

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/metrics"
	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/timeutil"
)

type Store interface {
	Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

// NewPersistent stores every computed vector in store. Store failures are
// logged and never fail the embedding call.
func NewPersistent(next ai.IEmbedder, store Store) ai.IEmbedder {
	if next == nil || store == nil {
		return next
	}
	return &persistentLayer{next: next, store: store}
}

type persistentLayer struct {
	next  ai.IEmbedder
	store Store
}

func (p *persistentLayer) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	key := newEntryKey(p.next.ModelName(), taskType, text)
	v, ok, err := p.store.Get(ctx, key.model, key.taskType, key.digest)
	switch {
	case err != nil:
		logger.Warn("embedding cache lookup failed", zap.Error(err))
	case ok:
		metrics.EmbeddingCacheLookups.WithLabelValues("db", "hit").Inc()
		return v, nil
	}
	metrics.EmbeddingCacheLookups.WithLabelValues("db", "miss").Inc()
	v, err = p.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	entry := &model.EmbeddingCache{
		ModelName:   key.model,
		TaskType:    key.taskType,
		ContentHash: key.digest,
		Embedding:   v,
		Ctime:       timeutil.NowUnix(),
	}
	if err := p.store.Save(ctx, entry); err != nil {
		logger.Warn("embedding cache write failed", zap.String("model", key.model), zap.Error(err))
	}
	return v, nil
}

func (p *persistentLayer) ModelName() string {
	return p.next.ModelName()
}
