package model

type StatusType string

const (
	StatusTypeDocument StatusType = "document"
	StatusTypeQuery    StatusType = "query"
	StatusTypeSystem   StatusType = "system"
)

// Query progress labels.
const (
	QueryStatusRetrieving    = "retrieving"
	QueryStatusGenerating    = "generating"
	QueryStatusLLMProcessing = "llm_processing"
	QueryStatusCompleted     = "completed"
	QueryStatusCached        = "cached"
	QueryStatusNoResults     = "no_results"
	QueryStatusError         = "error"
)

// Document progress labels beyond the persisted DocumentStatus values.
const (
	IngestStatusParsing   = "parsing"
	IngestStatusChunking  = "chunking"
	IngestStatusStoring   = "storing"
	IngestStatusEmbedding = "embedding"
)

type StatusEvent struct {
	Type      StatusType             `json:"type"`
	ID        string                 `json:"id"`
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Progress  int                    `json:"progress"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}
