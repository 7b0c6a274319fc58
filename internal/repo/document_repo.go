package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

var documentColumns = []string{"id", "filename", "storage_key", "mime_type", "size", "status", "error_message", "chunk_count", "ctime", "processed_at"}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":            doc.ID,
		"filename":      doc.Filename,
		"storage_key":   doc.StorageKey,
		"mime_type":     doc.MimeType,
		"size":          doc.Size,
		"status":        string(doc.Status),
		"error_message": doc.ErrorMessage,
		"chunk_count":   doc.ChunkCount,
		"ctime":         doc.Ctime,
		"mtime":         doc.Ctime,
		"processed_at":  doc.ProcessedAt,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", map[string]interface{}{"id": id}, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	return scanDocument(rows)
}

// List returns documents newest first. An empty status lists every document.
func (r *DocumentRepo) List(ctx context.Context, status model.DocumentStatus, limit, offset uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"_orderby": "ctime desc",
	}
	if status != "" {
		where["status"] = string(status)
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	return r.query(ctx, where)
}

// ListStaleProcessing returns documents stuck in processing since before the cutoff.
func (r *DocumentRepo) ListStaleProcessing(ctx context.Context, cutoff int64, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"status":   string(model.DocumentStatusProcessing),
		"mtime <":  cutoff,
		"_orderby": "mtime asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	return r.query(ctx, where)
}

func (r *DocumentRepo) query(ctx context.Context, where map[string]interface{}) ([]model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Transition moves a document to status `to` only when its current status is
// one of `from`. ErrNotFound is returned for a missing document and
// ErrConflict when the current status does not allow the move.
func (r *DocumentRepo) Transition(ctx context.Context, id string, from []model.DocumentStatus, to model.DocumentStatus, extra map[string]interface{}, now int64) error {
	fromValues := make([]string, 0, len(from))
	for _, st := range from {
		fromValues = append(fromValues, string(st))
	}
	where := map[string]interface{}{
		"id":        id,
		"status in": fromValues,
	}
	update := map[string]interface{}{
		"status": string(to),
		"mtime":  now,
	}
	for k, v := range extra {
		update[k] = v
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return appErr.ErrConflict
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) CountByStatus(ctx context.Context) (map[model.DocumentStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM documents GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[model.DocumentStatus]int)
	for rows.Next() {
		var status string
		var cnt int
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, err
		}
		counts[model.DocumentStatus(status)] = cnt
	}
	return counts, rows.Err()
}

func scanDocument(rows *sql.Rows) (*model.Document, error) {
	var doc model.Document
	var status string
	if err := rows.Scan(&doc.ID, &doc.Filename, &doc.StorageKey, &doc.MimeType, &doc.Size, &status, &doc.ErrorMessage, &doc.ChunkCount, &doc.Ctime, &doc.ProcessedAt); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentStatus(status)
	return &doc, nil
}
