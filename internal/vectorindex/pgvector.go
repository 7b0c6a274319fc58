package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/dbutil"
	"github.com/xxxsen/mrag/internal/pkg/timeutil"
)

func init() {
	Register("pgvector", func(db *sql.DB, args interface{}) (Index, error) {
		if db == nil {
			return nil, fmt.Errorf("pgvector index requires a database")
		}
		return NewPGVector(db), nil
	})
}

// PGVector keeps embeddings in the chunk_vectors table and ranks by cosine
// distance.
type PGVector struct {
	db *sql.DB
}

func NewPGVector(db *sql.DB) *PGVector {
	return &PGVector{db: db}
}

func (p *PGVector) Name() string {
	return "pgvector"
}

func (p *PGVector) Upsert(ctx context.Context, records []Record) ([]string, error) {
	const query = `
		INSERT INTO chunk_vectors (id, document_id, content, metadata, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding
	`
	ids := make([]string, 0, len(records))
	now := timeutil.NowUnix()
	err := dbutil.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range records {
			meta, err := json.Marshal(r.Metadata)
			if err != nil {
				return err
			}
			docID, _ := r.Metadata[model.MetaDocumentID].(string)
			if _, err := stmt.ExecContext(ctx, r.ID, docID, r.Content, string(meta), pgvector.NewVector(r.Embedding), now); err != nil {
				return fmt.Errorf("upsert vector %s: %w", r.ID, err)
			}
			ids = append(ids, r.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *PGVector) Query(ctx context.Context, embedding []float32, k int, filter map[string]interface{}) ([]Match, error) {
	args := []interface{}{pgvector.NewVector(embedding)}
	where := ""
	if filter != nil {
		raw, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		args = append(args, string(raw))
		where = "WHERE metadata @> $2::jsonb"
	}
	args = append(args, k)
	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM chunk_vectors
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, where, len(args))
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		var meta []byte
		var score float64
		if err := rows.Scan(&m.ID, &m.Content, &meta, &score); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, err
			}
		}
		m.Score = &score
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *PGVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

func (p *PGVector) PruneOrphans(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM chunk_vectors v
		WHERE NOT EXISTS (SELECT 1 FROM chunks c WHERE c.id = v.id)
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
