package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port           int                  `json:"port"`
	Database       DatabaseConfig       `json:"database"`
	LogConfig      logger.LogConfig     `json:"log_config"`
	FileStore      FileStoreConfig      `json:"file_store"`
	Auth           AuthConfig           `json:"auth"`
	AI             AIConfig             `json:"ai"`
	VectorIndex    VectorIndexConfig    `json:"vector_index"`
	RAG            RAGConfig            `json:"rag"`
	QueryCache     QueryCacheConfig     `json:"query_cache"`
	EmbeddingCache EmbeddingCacheConfig `json:"embedding_cache"`
	Ingest         IngestConfig         `json:"ingest"`
	Status         StatusConfig         `json:"status"`
	Jobs           JobsConfig           `json:"jobs"`
	CORSAllowlist  []string             `json:"cors_allowlist"`
	QueryRateLimit int                  `json:"query_rate_limit_ms"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	JWTTTLHours   int    `json:"jwt_ttl_hours"`
	AdminUser     string `json:"admin_user"`
	AdminPassword string `json:"admin_password"`
}

// ProviderConfig names one generator or embedder backend. Data is decoded by
// the provider factory registered under Provider.
type ProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	Generators    []ProviderConfig `json:"generators"`
	Embedders     []ProviderConfig `json:"embedders"`
	Timeout       int              `json:"timeout"`
	MaxInputChars int              `json:"max_input_chars"`
	Temperature   float32          `json:"temperature"`
	MaxTokens     int              `json:"max_tokens"`
	EmbedRPS      float64          `json:"embed_rps"`
	EmbedBurst    int              `json:"embed_burst"`
}

type VectorIndexConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type RAGConfig struct {
	ChunkSize    int     `json:"chunk_size"`
	ChunkOverlap int     `json:"chunk_overlap"`
	TopK         int     `json:"top_k"`
	MinScore     float64 `json:"min_score"`
}

type QueryCacheConfig struct {
	MaxSize    int `json:"max_size"`
	TTLSeconds int `json:"ttl_seconds"`
}

type EmbeddingCacheConfig struct {
	LRUSize       int  `json:"lru_size"`
	LRUTTLSeconds int  `json:"lru_ttl_seconds"`
	DB            bool `json:"db"`
	MaxAgeDays    int  `json:"max_age_days"`
}

type IngestConfig struct {
	Workers           int    `json:"workers"`
	QueueSize         int    `json:"queue_size"`
	MaxUploadMB       int    `json:"max_upload_mb"`
	WatchDir          string `json:"watch_dir"`
	StaleAfterMinutes int    `json:"stale_after_minutes"`
}

type StatusConfig struct {
	HistorySize      int `json:"history_size"`
	SubscriberBuffer int `json:"subscriber_buffer"`
}

// JobsConfig holds cron specs; an empty spec disables the job.
type JobsConfig struct {
	EmbeddingCacheCleanup string `json:"embedding_cache_cleanup"`
	QueryLogCleanup       string `json:"query_log_cleanup"`
	QueryLogRetentionDays int    `json:"query_log_retention_days"`
	StaleIngest           string `json:"stale_ingest"`
	OrphanVectorCleanup   string `json:"orphan_vector_cleanup"`
}

var envRefRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv only replaces ${NAME} references so that values such as bcrypt
// hashes, which contain bare '$', survive untouched.
func expandEnv(data []byte) []byte {
	return envRefRegex.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRefRegex.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(expandEnv(raw)))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Auth.JWTTTLHours == 0 {
		cfg.Auth.JWTTTLHours = 72
	}
	if cfg.Auth.AdminUser == "" {
		cfg.Auth.AdminUser = "admin"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.VectorIndex.Type == "" {
		cfg.VectorIndex.Type = "pgvector"
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.MaxInputChars == 0 {
		cfg.AI.MaxInputChars = 4000
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = 0.3
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 1024
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 200
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 4
	}
	if cfg.QueryCache.MaxSize == 0 {
		cfg.QueryCache.MaxSize = 500
	}
	if cfg.QueryCache.TTLSeconds == 0 {
		cfg.QueryCache.TTLSeconds = 3600
	}
	if cfg.EmbeddingCache.MaxAgeDays == 0 {
		cfg.EmbeddingCache.MaxAgeDays = 30
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 2
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 64
	}
	if cfg.Ingest.MaxUploadMB == 0 {
		cfg.Ingest.MaxUploadMB = 50
	}
	if cfg.Ingest.StaleAfterMinutes == 0 {
		cfg.Ingest.StaleAfterMinutes = 30
	}
	if cfg.Status.HistorySize == 0 {
		cfg.Status.HistorySize = 1000
	}
	if cfg.Status.SubscriberBuffer == 0 {
		cfg.Status.SubscriberBuffer = 32
	}
	if cfg.Jobs.QueryLogRetentionDays == 0 {
		cfg.Jobs.QueryLogRetentionDays = 90
	}
}

func validate(cfg *Config) error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if cfg.Auth.AdminPassword == "" {
		return fmt.Errorf("auth.admin_password is required")
	}
	if len(cfg.AI.Generators) == 0 {
		return fmt.Errorf("ai.generators requires at least one entry")
	}
	if len(cfg.AI.Embedders) == 0 {
		return fmt.Errorf("ai.embedders requires at least one entry")
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size)")
	}
	if cfg.RAG.MinScore < 0 {
		return fmt.Errorf("rag.min_score must not be negative")
	}
	switch cfg.FileStore.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	switch cfg.VectorIndex.Type {
	case "pgvector", "qdrant", "memory":
	default:
		return fmt.Errorf("vector_index.type must be pgvector, qdrant or memory")
	}
	return nil
}
