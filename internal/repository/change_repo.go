package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketbot/backend/internal/models"
)

// ChangeRepo stores pending change requests. A partial unique index on
// (kind, subject_id) WHERE status = 'pending' enforces the one-unresolved-
// request-per-subject rule at the store level; Create surfaces the
// violation as a pgconn unique-violation error.
type ChangeRepo struct {
	pool *pgxpool.Pool
}

func NewChangeRepo(pool *pgxpool.Pool) *ChangeRepo {
	return &ChangeRepo{pool: pool}
}

func (r *ChangeRepo) Create(ctx context.Context, c *models.ChangeRequest) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO change_requests (id, kind, subject_id, payload, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING created_at
	`, c.ID, c.Kind, c.SubjectID, c.Payload).Scan(&c.CreatedAt)
}

func (r *ChangeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	var c models.ChangeRequest
	err := r.pool.QueryRow(ctx, `
		SELECT id, kind, subject_id, payload, status, reason, resolved_by, resolved_at, created_at
		FROM change_requests WHERE id = $1
	`, id).Scan(&c.ID, &c.Kind, &c.SubjectID, &c.Payload, &c.Status, &c.Reason, &c.ResolvedBy, &c.ResolvedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Resolve marks the request approved or rejected, conditioned on it still
// being pending. Returns false when the guard fails; resolved requests are
// immutable.
func (r *ChangeRepo) Resolve(ctx context.Context, id uuid.UUID, status string, resolvedBy uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE change_requests
		SET status = $2, resolved_by = $3, reason = $4, resolved_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, status, resolvedBy, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ChangeFilter narrows List; zero values mean "any".
type ChangeFilter struct {
	Kind   models.ChangeType
	Status string
}

func (r *ChangeRepo) List(ctx context.Context, f ChangeFilter, limit, offset int) ([]*models.ChangeRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, subject_id, payload, status, reason, resolved_by, resolved_at, created_at
		FROM change_requests
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, string(f.Kind), f.Status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ChangeRequest
	for rows.Next() {
		var c models.ChangeRequest
		if err := rows.Scan(&c.ID, &c.Kind, &c.SubjectID, &c.Payload, &c.Status, &c.Reason, &c.ResolvedBy, &c.ResolvedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
