package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/config"
	"github.com/xxxsen/mrag/internal/db"
	"github.com/xxxsen/mrag/internal/embedcache"
	"github.com/xxxsen/mrag/internal/filestore"
	"github.com/xxxsen/mrag/internal/querycache"
	"github.com/xxxsen/mrag/internal/repo"
	"github.com/xxxsen/mrag/internal/service"
	"github.com/xxxsen/mrag/internal/status"
	"github.com/xxxsen/mrag/internal/vectorindex"
	"github.com/xxxsen/mrag/internal/worker"
)

type app struct {
	cfg *config.Config
	db  *sql.DB

	docs       *repo.DocumentRepo
	chunks     *repo.ChunkRepo
	queryLogs  *repo.QueryLogRepo
	embedCache *repo.EmbeddingCacheRepo

	index   vectorindex.Index
	tracker *status.Tracker
	pool    *worker.Pool

	ingest    *service.IngestService
	documents *service.DocumentService
	queries   *service.QueryService
	reindex   *service.ReindexService
	auth      *service.AuthService
}

func buildApp(cfg *config.Config) (*app, error) {
	logger := logutil.GetLogger(context.Background())
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a := &app{
		cfg:        cfg,
		db:         conn,
		docs:       repo.NewDocumentRepo(conn),
		chunks:     repo.NewChunkRepo(conn),
		queryLogs:  repo.NewQueryLogRepo(conn),
		embedCache: repo.NewEmbeddingCacheRepo(conn),
		tracker:    status.NewTracker(cfg.Status.HistorySize, cfg.Status.SubscriberBuffer),
	}
	if err := a.wire(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("components ready",
		zap.String("vector_index", a.index.Name()),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("generator", a.queries.ModelName()),
	)
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg
	timeout := time.Duration(cfg.AI.Timeout) * time.Second

	generator, err := buildGenerator(cfg.AI.Generators, timeout)
	if err != nil {
		return err
	}
	embedder, err := buildEmbedder(cfg.AI.Embedders)
	if err != nil {
		return err
	}
	embedder = ai.WithRateLimit(embedder, cfg.AI.EmbedRPS, cfg.AI.EmbedBurst, timeout)
	if cfg.EmbeddingCache.DB {
		embedder = embedcache.NewPersistent(embedder, a.embedCache)
	}
	if cfg.EmbeddingCache.LRUSize > 0 {
		embedder = embedcache.NewMemory(embedder, cfg.EmbeddingCache.LRUSize, time.Duration(cfg.EmbeddingCache.LRUTTLSeconds)*time.Second)
	}

	index, err := vectorindex.New(cfg.VectorIndex, a.db)
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}
	a.index = index
	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	cache, err := querycache.New(cfg.QueryCache.MaxSize, time.Duration(cfg.QueryCache.TTLSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("init query cache: %w", err)
	}
	splitter := ai.NewSplitter(ai.WithChunkSize(cfg.RAG.ChunkSize), ai.WithOverlap(cfg.RAG.ChunkOverlap))

	a.ingest = service.NewIngestService(a.docs, a.chunks, store, embedder, index, splitter, a.tracker).WithAnswerCache(cache)
	a.pool = worker.NewPool(cfg.Ingest.Workers, cfg.Ingest.QueueSize, a.ingest.Process)
	maxUpload := int64(cfg.Ingest.MaxUploadMB) * 1024 * 1024
	a.documents = service.NewDocumentService(a.docs, a.chunks, store, index, a.pool, a.tracker, maxUpload).WithAnswerCache(cache)
	a.queries = service.NewQueryService(service.NewRetriever(embedder, index, cfg.RAG.TopK), generator, cache, a.queryLogs, a.tracker, service.QueryConfig{
		MinScore:      cfg.RAG.MinScore,
		Temperature:   cfg.AI.Temperature,
		MaxTokens:     cfg.AI.MaxTokens,
		MaxInputChars: cfg.AI.MaxInputChars,
	})
	a.reindex = service.NewReindexService(a.docs, a.chunks, embedder, index, a.tracker)
	return a.wireAuth()
}

func (a *app) wireAuth() error {
	auth, err := service.NewAuthService(a.cfg.Auth.AdminUser, a.cfg.Auth.AdminPassword, []byte(a.cfg.Auth.JWTSecret), time.Duration(a.cfg.Auth.JWTTTLHours)*time.Hour)
	if err != nil {
		return err
	}
	a.auth = auth
	return nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	_ = a.db.Close()
}

func entryName(pc config.ProviderConfig) string {
	if pc.Name != "" {
		return pc.Name
	}
	return pc.Provider + ":" + pc.Model
}

func buildGenerator(items []config.ProviderConfig, timeout time.Duration) (ai.IGenerator, error) {
	entries := make([]ai.GeneratorEntry, 0, len(items))
	for _, pc := range items {
		p, err := ai.NewProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", entryName(pc), err)
		}
		entries = append(entries, ai.GeneratorEntry{
			Name:      entryName(pc),
			Generator: ai.WithTimeout(ai.NewGenerator(p, pc.Model), timeout),
		})
	}
	return ai.NewGroupGenerator(entries), nil
}

func buildEmbedder(items []config.ProviderConfig) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(items))
	for _, pc := range items {
		p, err := ai.NewEmbedProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init embedder %s: %w", entryName(pc), err)
		}
		entries = append(entries, ai.EmbedderEntry{Name: entryName(pc), Embedder: ai.NewEmbedder(p, pc.Model)})
	}
	return ai.NewGroupEmbedder(entries), nil
}
