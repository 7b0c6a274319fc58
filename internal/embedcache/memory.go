package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/metrics"
)

// NewMemory keeps up to size vectors for ttl. A non-positive size or ttl
// disables the layer and returns next unchanged.
func NewMemory(next ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &memoryLayer{
		next:    next,
		entries: expirable.NewLRU[entryKey, []float32](size, nil, ttl),
	}
}

type memoryLayer struct {
	next    ai.IEmbedder
	entries *expirable.LRU[entryKey, []float32]
}

func (m *memoryLayer) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := newEntryKey(m.next.ModelName(), taskType, text)
	if v, ok := m.entries.Get(key); ok {
		metrics.EmbeddingCacheLookups.WithLabelValues("memory", "hit").Inc()
		logutil.GetLogger(ctx).Debug("embedding served from memory", zap.String("task_type", taskType))
		return copyVector(v), nil
	}
	metrics.EmbeddingCacheLookups.WithLabelValues("memory", "miss").Inc()
	v, err := m.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	m.entries.Add(key, copyVector(v))
	return v, nil
}

func (m *memoryLayer) ModelName() string {
	return m.next.ModelName()
}
