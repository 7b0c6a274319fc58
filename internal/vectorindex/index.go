package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/mrag/internal/config"
)

var ErrInvalidFilter = errors.New("invalid metadata filter")

type Record struct {
	ID        string
	Embedding []float32
	Content   string
	Metadata  map[string]interface{}
}

// Match is one similarity search hit. Score is nil when the backend does not
// report one.
type Match struct {
	ID       string
	Content  string
	Score    *float64
	Metadata map[string]interface{}
}

// Index stores chunk embeddings. A nil filter means no constraint; a
// non-nil filter matches records whose metadata contains every key/value pair.
type Index interface {
	Name() string
	Upsert(ctx context.Context, records []Record) ([]string, error)
	Query(ctx context.Context, embedding []float32, k int, filter map[string]interface{}) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
}

// Pruner is implemented by indexes that can find records whose chunk row no
// longer exists.
type Pruner interface {
	PruneOrphans(ctx context.Context) (int64, error)
}

type Factory func(db *sql.DB, args interface{}) (Index, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorIndexConfig, db *sql.DB) (Index, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_index.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector index type: %s", cfg.Type)
	}
	return factory(db, cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector index config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector index config: %w", err)
	}
	return nil
}

// checkScalarFilter rejects values that can't be compared by equality.
func checkScalarFilter(filter map[string]interface{}) error {
	for k, v := range filter {
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64, json.Number:
		default:
			return fmt.Errorf("%w: value of %q must be a string, number or bool", ErrInvalidFilter, k)
		}
	}
	return nil
}

func copyMeta(meta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
