package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/mrag/internal/metrics"
	"github.com/xxxsen/mrag/internal/model"
)

// Cache maps (normalized question, options) to a previous generation result.
// Entries are evicted least recently used first once MaxSize is reached and
// expire ttl after their last write.
type Cache struct {
	lru     *expirable.LRU[string, *model.GenerationResult]
	maxSize int
}

type Stats struct {
	Size    int `json:"size"`
	MaxSize int `json:"max_size"`
}

func New(maxSize int, ttl time.Duration) (*Cache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("query cache max size must be positive, got %d", maxSize)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("query cache ttl must be positive, got %s", ttl)
	}
	return &Cache{
		lru:     expirable.NewLRU[string, *model.GenerationResult](maxSize, nil, ttl),
		maxSize: maxSize,
	}, nil
}

func (c *Cache) Get(query string, opts *model.QueryOptions) (*model.GenerationResult, bool) {
	res, ok := c.lru.Get(BuildKey(query, opts))
	if ok {
		metrics.QueryCacheRequests.WithLabelValues("hit").Inc()
	} else {
		metrics.QueryCacheRequests.WithLabelValues("miss").Inc()
	}
	return res, ok
}

func (c *Cache) Set(query string, result *model.GenerationResult, opts *model.QueryOptions) {
	if result == nil {
		return
	}
	c.lru.Add(BuildKey(query, opts), result)
}

func (c *Cache) Clear() {
	c.lru.Purge()
}

func (c *Cache) Stats() Stats {
	return Stats{Size: c.lru.Len(), MaxSize: c.maxSize}
}

// BuildKey hashes the trimmed, lower-cased question and, when present, the
// JSON encoding of the options. Map keys inside the filter are encoded in
// sorted order, so equal option sets always produce equal keys.
func BuildKey(query string, opts *model.QueryOptions) string {
	key := "q:" + hashString(strings.ToLower(strings.TrimSpace(query)))
	if opts == nil {
		return key
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		raw = []byte(fmt.Sprintf("%#v", *opts))
	}
	return key + ":o:" + hashString(string(raw))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
