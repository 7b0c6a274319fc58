package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/filestore"
	"github.com/xxxsen/mrag/internal/middleware"
	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/querycache"
	"github.com/xxxsen/mrag/internal/service"
	"github.com/xxxsen/mrag/internal/status"
	"github.com/xxxsen/mrag/internal/vectorindex"
	"github.com/xxxsen/mrag/internal/worker"
)

const (
	testUser     = "admin"
	testPassword = "secret"
)

type memDocs struct {
	mu     sync.Mutex
	docs   map[string]*model.Document
	chunks *memChunks
}

func (m *memDocs) Create(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *memDocs) GetByID(ctx context.Context, id string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memDocs) List(ctx context.Context, st model.DocumentStatus, limit, offset uint) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Document, 0)
	for _, doc := range m.docs {
		if st == "" || doc.Status == st {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDocs) Transition(ctx context.Context, id string, from []model.DocumentStatus, to model.DocumentStatus, extra map[string]interface{}, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return appErr.ErrNotFound
	}
	for _, st := range from {
		if doc.Status == st {
			doc.Status = to
			if v, ok := extra["chunk_count"].(int); ok {
				doc.ChunkCount = v
			}
			if v, ok := extra["error_message"].(string); ok {
				doc.ErrorMessage = v
			}
			return nil
		}
	}
	return appErr.ErrConflict
}

func (m *memDocs) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return appErr.ErrNotFound
	}
	delete(m.docs, id)
	_, _ = m.chunks.DeleteByDocument(ctx, id)
	return nil
}

type memChunks struct {
	mu     sync.Mutex
	chunks map[string][]model.Chunk
}

func (m *memChunks) CreateBatch(ctx context.Context, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], c)
	}
	return nil
}

func (m *memChunks) ListByDocument(ctx context.Context, docID string) ([]model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Chunk{}, m.chunks[docID]...), nil
}

func (m *memChunks) ListIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for _, c := range m.chunks[docID] {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (m *memChunks) DeleteByDocument(ctx context.Context, docID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.chunks[docID])
	delete(m.chunks, docID)
	return int64(n), nil
}

type memLogs struct {
	mu   sync.Mutex
	logs []model.QueryLog
}

func (m *memLogs) Create(ctx context.Context, item *model.QueryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *item)
	return nil
}

func (m *memLogs) List(ctx context.Context, limit, offset uint) ([]model.QueryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.QueryLog{}, m.logs...), nil
}

type letterEmbedder struct{}

func (letterEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vec := make([]float32, 3)
	for i, r := range text {
		vec[i%3] += float32(r % 7)
	}
	vec[0]++
	return vec, nil
}

func (letterEmbedder) ModelName() string {
	return "letters"
}

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	return "It is described in the notes [Source: notes.txt].", nil
}

func (echoGenerator) ModelName() string {
	return "echo"
}

type testEnv struct {
	handler http.Handler
	tracker *status.Tracker
	docs    *memDocs
	index   *vectorindex.Memory
	pool    *worker.Pool
	token   string
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	chunks := &memChunks{chunks: map[string][]model.Chunk{}}
	docs := &memDocs{docs: map[string]*model.Document{}, chunks: chunks}
	index := vectorindex.NewMemory()
	files := filestore.NewLocal(t.TempDir())
	tracker := status.NewTracker(100, 64)
	cache, err := querycache.New(10, time.Minute)
	require.NoError(t, err)

	ingest := service.NewIngestService(docs, chunks, files, letterEmbedder{}, index, ai.NewSplitter(), tracker)
	pool := worker.NewPool(1, 8, ingest.Process)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	documents := service.NewDocumentService(docs, chunks, files, index, pool, tracker, 1024*1024)
	queries := service.NewQueryService(service.NewRetriever(letterEmbedder{}, index, 4), echoGenerator{}, cache, &memLogs{}, tracker, service.QueryConfig{MaxInputChars: 200})
	reindex := service.NewReindexService(docs, chunks, letterEmbedder{}, index, tracker)
	auth, err := service.NewAuthService(testUser, testPassword, []byte("test-secret"), time.Hour)
	require.NoError(t, err)

	deps := RouterDeps{
		Auth:      NewAuthHandler(auth),
		Documents: NewDocumentHandler(documents, 1024*1024),
		Query:     NewQueryHandler(queries),
		Status:    NewStatusHandler(tracker),
		System:    NewSystemHandler(nil, index.Name(), queries, pool, tracker, reindex).WithEmbeddingCache(staticCounter(7)),
		JWTSecret: auth.Secret(),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)

	token, err := auth.IssueToken(testUser)
	require.NoError(t, err)
	return &testEnv{handler: engine, tracker: tracker, docs: docs, index: index, pool: pool, token: token}
}

type staticCounter int64

func (s staticCounter) Count(ctx context.Context) (int64, error) {
	return int64(s), nil
}
