package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/status"
	"github.com/xxxsen/mrag/internal/vectorindex"
)

type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string]*model.Document{}}
}

func (f *fakeDocs) Create(ctx context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[doc.ID]; ok {
		return appErr.ErrConflict
	}
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocs) GetByID(ctx context.Context, id string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocs) List(ctx context.Context, st model.DocumentStatus, limit, offset uint) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Document, 0)
	for _, doc := range f.docs {
		if st != "" && doc.Status != st {
			continue
		}
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= uint(len(out)) {
		return []model.Document{}, nil
	}
	out = out[offset:]
	if limit > 0 && uint(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDocs) Transition(ctx context.Context, id string, from []model.DocumentStatus, to model.DocumentStatus, extra map[string]interface{}, now int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return appErr.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if doc.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return appErr.ErrConflict
	}
	doc.Status = to
	if v, ok := extra["error_message"].(string); ok {
		doc.ErrorMessage = v
	}
	if v, ok := extra["chunk_count"].(int); ok {
		doc.ChunkCount = v
	}
	if v, ok := extra["processed_at"].(int64); ok {
		doc.ProcessedAt = v
	}
	return nil
}

func (f *fakeDocs) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return appErr.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

type fakeChunks struct {
	mu     sync.Mutex
	chunks map[string][]model.Chunk
	err    error
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{chunks: map[string][]model.Chunk{}}
}

func (f *fakeChunks) CreateBatch(ctx context.Context, chunks []model.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, c := range chunks {
		f.chunks[c.DocumentID] = append(f.chunks[c.DocumentID], c)
	}
	return nil
}

func (f *fakeChunks) ListByDocument(ctx context.Context, docID string) ([]model.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Chunk{}, f.chunks[docID]...), nil
}

func (f *fakeChunks) ListIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for _, c := range f.chunks[docID] {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (f *fakeChunks) DeleteByDocument(ctx context.Context, docID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.chunks[docID])
	delete(f.chunks, docID)
	return int64(n), nil
}

// cascade mimics ON DELETE CASCADE when paired with fakeDocs.
type cascadeDocs struct {
	*fakeDocs
	chunks *fakeChunks
}

func (c *cascadeDocs) Delete(ctx context.Context, id string) error {
	if err := c.fakeDocs.Delete(ctx, id); err != nil {
		return err
	}
	_, _ = c.chunks.DeleteByDocument(ctx, id)
	return nil
}

type fakeLogs struct {
	mu   sync.Mutex
	logs []model.QueryLog
	err  error
}

func (f *fakeLogs) Create(ctx context.Context, item *model.QueryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.logs {
		if existing.ID == item.ID {
			return appErr.ErrConflict
		}
	}
	f.logs = append(f.logs, *item)
	return nil
}

func (f *fakeLogs) List(ctx context.Context, limit, offset uint) ([]model.QueryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.QueryLog{}, f.logs...), nil
}

type fakeFiles struct {
	mu    sync.Mutex
	data  map[string][]byte
	opens int
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{data: map[string][]byte{}}
}

func (f *fakeFiles) Type() string {
	return "fake"
}

func (f *fakeFiles) Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = raw
	return nil
}

func (f *fakeFiles) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	raw, ok := f.data[key]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(raw))), nil
}

func (f *fakeFiles) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

// hashEmbedder maps text to a small deterministic vector. hook, when set,
// runs before every call.
type hashEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
	tasks []string
	hook  func()
}

func (h *hashEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if h.hook != nil {
		h.hook()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.tasks = append(h.tasks, taskType)
	if h.err != nil {
		return nil, h.err
	}
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r%17) + 1
	}
	return vec, nil
}

func (h *hashEmbedder) ModelName() string {
	return "hash"
}

type fakeGenerator struct {
	answer string
	err    error
	last   ai.GenerateRequest
	calls  int
}

func (g *fakeGenerator) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	g.calls++
	g.last = req
	return g.answer, g.err
}

func (g *fakeGenerator) ModelName() string {
	return "fake-model"
}

// scriptedIndex wraps Memory and can fail filtered queries, all queries or deletes.
type scriptedIndex struct {
	*vectorindex.Memory
	failFiltered bool
	failQuery    error
	failDelete   error
	failUpsert   error
	filters      []map[string]interface{}
}

func newScriptedIndex() *scriptedIndex {
	return &scriptedIndex{Memory: vectorindex.NewMemory()}
}

func (s *scriptedIndex) Query(ctx context.Context, embedding []float32, k int, filter map[string]interface{}) ([]vectorindex.Match, error) {
	s.filters = append(s.filters, filter)
	if s.failQuery != nil {
		return nil, s.failQuery
	}
	if filter != nil && s.failFiltered {
		return nil, errors.New("filter shape rejected")
	}
	return s.Memory.Query(ctx, embedding, k, filter)
}

func (s *scriptedIndex) Upsert(ctx context.Context, records []vectorindex.Record) ([]string, error) {
	if s.failUpsert != nil {
		return nil, s.failUpsert
	}
	return s.Memory.Upsert(ctx, records)
}

func (s *scriptedIndex) Delete(ctx context.Context, ids []string) error {
	if s.failDelete != nil {
		return s.failDelete
	}
	return s.Memory.Delete(ctx, ids)
}

type countingCache struct {
	clears int
}

func (c *countingCache) Clear() {
	c.clears++
}

// hookedDocs runs beforeGet after reading a document and before returning
// it, so the caller acts on a snapshot that may have gone stale.
type hookedDocs struct {
	DocumentStore
	beforeGet func()
}

func (h *hookedDocs) GetByID(ctx context.Context, id string) (*model.Document, error) {
	doc, err := h.DocumentStore.GetByID(ctx, id)
	if h.beforeGet != nil {
		h.beforeGet()
	}
	return doc, err
}

type fakeQueue struct {
	submitted []string
	err       error
}

func (q *fakeQueue) Submit(docID string) (<-chan *model.IngestResult, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.submitted = append(q.submitted, docID)
	ch := make(chan *model.IngestResult, 1)
	return ch, nil
}

func collectEvents(tr *status.Tracker, id string) (func() []model.StatusEvent, func()) {
	sub := tr.Subscribe("", id)
	var mu sync.Mutex
	events := make([]model.StatusEvent, 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events() {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()
	stop := func() {
		sub.Close()
		<-done
	}
	get := func() []model.StatusEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]model.StatusEvent{}, events...)
	}
	return get, stop
}

func statuses(events []model.StatusEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Status)
	}
	return out
}
