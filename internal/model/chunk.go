package model

// Metadata keys shared by chunk rows and vector records.
const (
	MetaSource     = "source"
	MetaPage       = "page"
	MetaChunkIndex = "chunk_index"
	MetaDocumentID = "document_id"
	MetaHeading    = "heading"
	MetaMimeType   = "mime_type"
)

type Chunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Index      int                    `json:"index"`
	Content    string                 `json:"content"`
	Page       *int                   `json:"page,omitempty"`
	Metadata   map[string]interface{} `json:"metadata"`
	Ctime      int64                  `json:"ctime"`
}

// RetrievedChunk is a chunk returned by a similarity search.
type RetrievedChunk struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (c RetrievedChunk) Source() string {
	v, _ := c.Metadata[MetaSource].(string)
	return v
}

// Page returns the page number from metadata, accepting the numeric shapes a
// JSON round trip may produce.
func (c RetrievedChunk) Page() (int, bool) {
	return IntFromMeta(c.Metadata, MetaPage)
}

func IntFromMeta(meta map[string]interface{}, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}
