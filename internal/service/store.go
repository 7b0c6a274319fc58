package service

import (
	"context"

	"github.com/xxxsen/mrag/internal/model"
)

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context, status model.DocumentStatus, limit, offset uint) ([]model.Document, error)
	Transition(ctx context.Context, id string, from []model.DocumentStatus, to model.DocumentStatus, extra map[string]interface{}, now int64) error
	Delete(ctx context.Context, id string) error
}

type ChunkStore interface {
	CreateBatch(ctx context.Context, chunks []model.Chunk) error
	ListByDocument(ctx context.Context, docID string) ([]model.Chunk, error)
	ListIDsByDocument(ctx context.Context, docID string) ([]string, error)
	DeleteByDocument(ctx context.Context, docID string) (int64, error)
}

type QueryLogStore interface {
	Create(ctx context.Context, item *model.QueryLog) error
	List(ctx context.Context, limit, offset uint) ([]model.QueryLog, error)
}

// AnswerCache drops every cached answer.
type AnswerCache interface {
	Clear()
}

type IngestQueue interface {
	Submit(docID string) (<-chan *model.IngestResult, error)
}
