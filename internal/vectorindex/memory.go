package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"
)

func init() {
	Register("memory", func(db *sql.DB, args interface{}) (Index, error) {
		return NewMemory(), nil
	})
}

// Memory is a brute-force cosine index kept in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Name() string {
	return "memory"
}

func (m *Memory) Upsert(ctx context.Context, records []Record) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("record id is required")
		}
		if len(r.Embedding) == 0 {
			return nil, fmt.Errorf("record %s has no embedding", r.ID)
		}
		emb := make([]float32, len(r.Embedding))
		copy(emb, r.Embedding)
		m.records[r.ID] = Record{ID: r.ID, Embedding: emb, Content: r.Content, Metadata: copyMeta(r.Metadata)}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *Memory) Query(ctx context.Context, embedding []float32, k int, filter map[string]interface{}) ([]Match, error) {
	if err := checkScalarFilter(filter); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := make([]Match, 0)
	for _, r := range m.records {
		if !metaContains(r.Metadata, filter) {
			continue
		}
		score := cosine(embedding, r.Embedding)
		matches = append(matches, Match{ID: r.ID, Content: r.Content, Score: &score, Metadata: copyMeta(r.Metadata)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if *matches[i].Score == *matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return *matches[i].Score > *matches[j].Score
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *Memory) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func metaContains(meta, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b interface{}) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
