package vectorindex

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	qdrantContentKey = "_content"
	qdrantChunkIDKey = "_chunk_id"
)

var errQdrantNotFound = errors.New("qdrant resource not found")

type qdrantConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Collection string `json:"collection"`
	Timeout    int    `json:"timeout"`
}

func init() {
	Register("qdrant", func(db *sql.DB, args interface{}) (Index, error) {
		cfg := &qdrantConfig{}
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
		return NewQdrant(cfg.URL, cfg.APIKey, cfg.Collection, time.Duration(cfg.Timeout)*time.Second)
	})
}

// Qdrant talks to a qdrant server over its REST API. The collection is
// created with cosine distance on the first upsert, sized to the embedding.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu    sync.Mutex
	ready bool
}

func NewQdrant(url, apiKey, collection string, timeout time.Duration) (*Qdrant, error) {
	if url == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if collection == "" {
		collection = "mrag_chunks"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:        strings.TrimRight(url, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (q *Qdrant) Name() string {
	return "qdrant"
}

// pointID maps a chunk id to a qdrant point id, which must be a UUID.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *Qdrant) ensureCollection(ctx context.Context, dimension int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}
	err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, nil)
	if errors.Is(err, errQdrantNotFound) {
		body := map[string]interface{}{
			"vectors": map[string]interface{}{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		err = q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil)
	}
	if err != nil {
		return err
	}
	q.ready = true
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, records []Record) ([]string, error) {
	if len(records) == 0 {
		return []string{}, nil
	}
	if err := q.ensureCollection(ctx, len(records[0].Embedding)); err != nil {
		return nil, fmt.Errorf("ensure qdrant collection: %w", err)
	}
	points := make([]map[string]interface{}, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		payload := copyMeta(r.Metadata)
		payload[qdrantContentKey] = r.Content
		payload[qdrantChunkIDKey] = r.ID
		points = append(points, map[string]interface{}{
			"id":      pointID(r.ID),
			"vector":  r.Embedding,
			"payload": payload,
		})
		ids = append(ids, r.ID)
	}
	body := map[string]interface{}{"points": points}
	if err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), body, nil); err != nil {
		return nil, err
	}
	return ids, nil
}

func (q *Qdrant) Query(ctx context.Context, embedding []float32, k int, filter map[string]interface{}) ([]Match, error) {
	if err := checkScalarFilter(filter); err != nil {
		return nil, err
	}
	req := map[string]interface{}{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	if filter != nil {
		must := make([]map[string]interface{}, 0, len(filter))
		for key, v := range filter {
			must = append(must, map[string]interface{}{
				"key":   key,
				"match": map[string]interface{}{"value": v},
			})
		}
		req["filter"] = map[string]interface{}{"must": must}
	}
	var resp struct {
		Result []struct {
			Score   *float64               `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &resp)
	if errors.Is(err, errQdrantNotFound) {
		return []Match{}, nil
	}
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		meta := copyMeta(r.Payload)
		content, _ := meta[qdrantContentKey].(string)
		id, _ := meta[qdrantChunkIDKey].(string)
		delete(meta, qdrantContentKey)
		delete(meta, qdrantChunkIDKey)
		matches = append(matches, Match{ID: id, Content: content, Score: r.Score, Metadata: meta})
	}
	return matches, nil
}

func (q *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		points = append(points, pointID(id))
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL("/points/delete?wait=true"), map[string]interface{}{"points": points}, nil)
	if errors.Is(err, errQdrantNotFound) {
		return nil
	}
	return err
}

func (q *Qdrant) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.url, q.collection, suffix)
}

func (q *Qdrant) do(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errQdrantNotFound
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
