package model

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusProcessed  DocumentStatus = "processed"
	DocumentStatusFailed     DocumentStatus = "failed"
	// DocumentStatusDeleting marks a document whose removal has started; it can
	// no longer enter processing.
	DocumentStatusDeleting   DocumentStatus = "deleting"
)

func (s DocumentStatus) Terminal() bool {
	return s == DocumentStatusProcessed || s == DocumentStatusFailed
}

type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	StorageKey   string         `json:"storage_key"`
	MimeType     string         `json:"mime_type"`
	Size         int64          `json:"size"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	Ctime        int64          `json:"ctime"`
	ProcessedAt  int64          `json:"processed_at,omitempty"`
}
