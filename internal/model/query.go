package model

// QueryOptions are the per-request generation options. A nil *QueryOptions is
// the "no options" case and caches under its own key.
type QueryOptions struct {
	TopK        int                    `json:"top_k,omitempty"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
	MinScore    float64                `json:"min_score,omitempty"`
	Temperature *float32               `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
}

type CitationRef struct {
	Source string `json:"source"`
	Page   *int   `json:"page,omitempty"`
}

type Citation struct {
	Source  string `json:"source"`
	Page    *int   `json:"page,omitempty"`
	Content string `json:"content"`
}

type GenerationMetadata struct {
	Model          string `json:"model"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Cached         bool   `json:"cached"`
	FilterFallback bool   `json:"filter_fallback"`
}

type GenerationResult struct {
	Answer    string             `json:"answer"`
	Citations []Citation         `json:"citations"`
	Sources   []string           `json:"sources"`
	Metadata  GenerationMetadata `json:"metadata"`
}

// QueryLog is one answered question. QueryID is the id the caller used for
// status events and may repeat across entries.
type QueryLog struct {
	ID             string `json:"id"`
	QueryID        string `json:"query_id"`
	Query          string `json:"query"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Ctime          int64  `json:"ctime"`
}

type IngestResult struct {
	DocumentID string `json:"document_id"`
	Success    bool   `json:"success"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}
