package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/config"
	"github.com/xxxsen/mrag/internal/handler"
	"github.com/xxxsen/mrag/internal/job"
	"github.com/xxxsen/mrag/internal/middleware"
	"github.com/xxxsen/mrag/internal/pkg/password"
	"github.com/xxxsen/mrag/internal/schedule"
	"github.com/xxxsen/mrag/internal/vectorindex"
	"github.com/xxxsen/mrag/internal/watcher"
)

const apiPrefix = "/api/v1"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "mrag",
		Short:        "mrag retrieval-augmented question answering backend",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the http server, ingestion workers and maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return runServer(cmd.Context(), a)
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "ingest local files and wait for the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return runIngest(cmd.Context(), a, args)
		},
	}

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "re-embed every processed document into the configured vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			report, err := a.reindex.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("documents=%d chunks=%d failed=%d\n", report.Documents, report.Chunks, report.Failed)
			return nil
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "print an api token for the admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a := &app{cfg: cfg}
			if err := a.wireAuth(); err != nil {
				return err
			}
			token, err := a.auth.IssueToken(cfg.Auth.AdminUser)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	hashCmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "print a bcrypt hash usable as auth.admin_password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := password.Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, ingestCmd, reindexCmd, tokenCmd, hashCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func loadApp(path string) (*app, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	return buildApp(cfg)
}

func runIngest(ctx context.Context, a *app, paths []string) error {
	a.pool.Start(ctx)
	failed := 0
	for _, path := range paths {
		doc, results, err := a.documents.Import(ctx, path)
		if err != nil {
			failed++
			fmt.Printf("%s: %v\n", path, err)
			continue
		}
		select {
		case res := <-results:
			if !res.Success {
				failed++
				fmt.Printf("%s: failed: %s\n", path, res.Error)
				continue
			}
			fmt.Printf("%s: document %s, %d chunks\n", path, doc.ID, res.ChunkCount)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func runServer(parent context.Context, a *app) error {
	cfg := a.cfg
	ctx, stop := context.WithCancel(parent)
	defer stop()
	log := logutil.GetLogger(ctx)
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	log.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("vector_index", a.index.Name()),
		zap.String("file_store", cfg.FileStore.Type),
	)

	a.pool.Start(ctx)
	if n, err := a.documents.ResumePending(ctx); err != nil {
		log.Error("resume pending documents failed", zap.Error(err))
	} else if n > 0 {
		log.Info("pending documents requeued", zap.Int("count", n))
	}

	scheduler, err := startJobs(ctx, a)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	if cfg.Ingest.WatchDir != "" {
		inbox := watcher.NewInbox(cfg.Ingest.WatchDir, a.documents)
		go func() {
			if err := inbox.Run(ctx); err != nil {
				log.Error("inbox watcher failed", zap.Error(err))
			}
		}()
	}

	deps := handler.RouterDeps{
		Auth:           handler.NewAuthHandler(a.auth),
		Documents:      handler.NewDocumentHandler(a.documents, int64(cfg.Ingest.MaxUploadMB)*1024*1024),
		Query:          handler.NewQueryHandler(a.queries),
		Status:         handler.NewStatusHandler(a.tracker),
		System:         handler.NewSystemHandler(a.db, a.index.Name(), a.queries, a.pool, a.tracker, a.reindex).WithEmbeddingCache(a.embedCache),
		JWTSecret:      a.auth.Secret(),
		QueryRateLimit: time.Duration(cfg.QueryRateLimit) * time.Millisecond,
	}
	engine, err := webapi.NewEngine(
		apiPrefix,
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.Metrics(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
				apiPrefix + "/status/stream",
				apiPrefix + "/metrics",
			})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	log.Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server stopping...")
	return nil
}

type scheduledJob struct {
	job  schedule.Job
	spec string
}

func startJobs(ctx context.Context, a *app) (*schedule.CronScheduler, error) {
	cfg := a.cfg
	scheduler := schedule.NewCronScheduler()
	jobs := []scheduledJob{
		{job.NewEmbeddingCacheCleanupJob(a.embedCache, cfg.EmbeddingCache.MaxAgeDays), cfg.Jobs.EmbeddingCacheCleanup},
		{job.NewQueryLogCleanupJob(a.queryLogs, cfg.Jobs.QueryLogRetentionDays), cfg.Jobs.QueryLogCleanup},
		{job.NewStaleIngestJob(a.docs, a.ingest, time.Duration(cfg.Ingest.StaleAfterMinutes)*time.Minute), cfg.Jobs.StaleIngest},
	}
	if pruner, ok := a.index.(vectorindex.Pruner); ok {
		jobs = append(jobs, scheduledJob{job.NewOrphanVectorCleanupJob(pruner), cfg.Jobs.OrphanVectorCleanup})
	}
	for _, item := range jobs {
		if err := scheduler.AddJob(item.job, item.spec); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", item.job.Name(), err)
		}
	}
	scheduler.Start(ctx)
	return scheduler, nil
}
