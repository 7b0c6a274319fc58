package model

// EmbeddingCache is one persisted vector. ContentHash is the hex sha256 of
// the embedded text.
type EmbeddingCache struct {
	ModelName   string
	TaskType    string
	ContentHash string
	Embedding   []float32
	Ctime       int64
}
