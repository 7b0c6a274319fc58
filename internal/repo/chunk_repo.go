package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

// chunkInsertBatch keeps multi-row inserts under the postgres parameter limit.
const chunkInsertBatch = 500

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// CreateBatch inserts all chunks in a single transaction.
func (r *ChunkRepo) CreateBatch(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(chunks))
	for _, chunk := range chunks {
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return err
		}
		var page interface{}
		if chunk.Page != nil {
			page = *chunk.Page
		}
		rows = append(rows, map[string]interface{}{
			"id":          chunk.ID,
			"document_id": chunk.DocumentID,
			"chunk_index": chunk.Index,
			"content":     chunk.Content,
			"page":        page,
			"metadata":    string(meta),
			"ctime":       chunk.Ctime,
		})
	}
	return dbutil.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for start := 0; start < len(rows); start += chunkInsertBatch {
			end := start + chunkInsertBatch
			if end > len(rows) {
				end = len(rows)
			}
			sqlStr, args, err := builder.BuildInsert("chunks", rows[start:end])
			if err != nil {
				return err
			}
			sqlStr, args = dbutil.Finalize(sqlStr, args)
			if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
				if dbutil.IsForeignKeyViolation(err) {
					return appErr.ErrNotFound
				}
				return err
			}
		}
		return nil
	})
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, docID string) ([]model.Chunk, error) {
	where := map[string]interface{}{
		"document_id": docID,
		"_orderby":    "chunk_index asc",
	}
	sqlStr, args, err := builder.BuildSelect("chunks", where, []string{"id", "document_id", "chunk_index", "content", "page", "metadata", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	chunks := make([]model.Chunk, 0)
	for rows.Next() {
		var chunk model.Chunk
		var page sql.NullInt64
		var meta []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.Content, &page, &meta, &chunk.Ctime); err != nil {
			return nil, err
		}
		if page.Valid {
			p := int(page.Int64)
			chunk.Page = &p
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &chunk.Metadata); err != nil {
				return nil, err
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepo) ListIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	sqlStr, args, err := builder.BuildSelect("chunks", map[string]interface{}{"document_id": docID}, []string{"id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ChunkRepo) DeleteByDocument(ctx context.Context, docID string) (int64, error) {
	sqlStr, args, err := builder.BuildDelete("chunks", map[string]interface{}{"document_id": docID})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
