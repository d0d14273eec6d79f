package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type snapshotRepoPG struct{ pool *pgxpool.Pool }

func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository { return &snapshotRepoPG{pool: pool} }

// conn prefers the tenant-scoped connection set up by the tenant middleware.
func (r *snapshotRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const snapshotCols = `id, domain, parent_id, scores, ml_prediction, ml_probability, source, created_at, updated_at`

func (r *snapshotRepoPG) scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.ID, &s.Domain, &s.ParentID, &s.Scores, &s.MLPrediction, &s.MLProbability,
		&s.Source, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *snapshotRepoPG) Upsert(ctx context.Context, s *Snapshot) error {
	if s.Scores == nil {
		s.Scores = map[string]float64{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO feature_snapshots (id, domain, parent_id, scores, ml_prediction, ml_probability, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain, parent_id) DO UPDATE SET
			scores = EXCLUDED.scores,
			ml_prediction = EXCLUDED.ml_prediction,
			ml_probability = EXCLUDED.ml_probability,
			source = EXCLUDED.source,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), s.Domain, s.ParentID, s.Scores, s.MLPrediction, s.MLProbability, s.Source,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert feature snapshot %s/%s: %w", s.Domain, s.ParentID, err)
	}
	return nil
}

func (r *snapshotRepoPG) GetByParent(ctx context.Context, d Domain, parentID uuid.UUID) (*Snapshot, error) {
	s, err := r.scanSnapshot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM feature_snapshots WHERE domain = $1 AND parent_id = $2`, d, parentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feature snapshot %s/%s: %w", d, parentID, err)
	}
	return s, nil
}

func (r *snapshotRepoPG) ListByDomain(ctx context.Context, d Domain, limit, offset int) ([]*Snapshot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM feature_snapshots WHERE domain = $1`, d).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count feature snapshots: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+snapshotCols+` FROM feature_snapshots
		WHERE domain = $1 ORDER BY updated_at DESC, id LIMIT $2 OFFSET $3`, d, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list feature snapshots: %w", err)
	}
	defer rows.Close()

	var items []*Snapshot
	for rows.Next() {
		s, err := r.scanSnapshot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan feature snapshot: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate feature snapshots: %w", err)
	}
	return items, total, nil
}
