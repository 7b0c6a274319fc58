package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/dbutil"
)

type QueryLogRepo struct {
	db *sql.DB
}

func NewQueryLogRepo(db *sql.DB) *QueryLogRepo {
	return &QueryLogRepo{db: db}
}

func (r *QueryLogRepo) Create(ctx context.Context, item *model.QueryLog) error {
	data := map[string]interface{}{
		"id":               item.ID,
		"query_id":         item.QueryID,
		"query":            item.Query,
		"response_time_ms": item.ResponseTimeMs,
		"ctime":            item.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("query_logs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *QueryLogRepo) List(ctx context.Context, limit, offset uint) ([]model.QueryLog, error) {
	where := map[string]interface{}{
		"_orderby": "ctime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("query_logs", where, []string{"id", "query_id", "query", "response_time_ms", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.QueryLog, 0)
	for rows.Next() {
		var item model.QueryLog
		if err := rows.Scan(&item.ID, &item.QueryID, &item.Query, &item.ResponseTimeMs, &item.Ctime); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *QueryLogRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args := dbutil.Finalize("DELETE FROM query_logs WHERE ctime < ?", []interface{}{cutoff})
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
