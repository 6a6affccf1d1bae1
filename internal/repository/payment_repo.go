package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketbot/backend/internal/models"
)

// PaymentRepo stores pending external payments. The payload column carries
// a UNIQUE constraint; that constraint plus the status guard in
// MarkCompleted is the whole idempotency story for webhook deliveries.
type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func (r *PaymentRepo) Create(ctx context.Context, p *models.PendingPayment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO pending_payments (id, owner_id, payload, kind, amount_minor, currency, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
		RETURNING created_at
	`, p.ID, p.OwnerID, p.Payload, p.Kind, p.AmountMinor, p.Currency, p.ExpiresAt).Scan(&p.CreatedAt)
}

func (r *PaymentRepo) GetByPayload(ctx context.Context, payload string) (*models.PendingPayment, error) {
	var p models.PendingPayment
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, payload, kind, amount_minor, currency, status, charge_id, expires_at, created_at, completed_at
		FROM pending_payments WHERE payload = $1
	`, payload).Scan(&p.ID, &p.OwnerID, &p.Payload, &p.Kind, &p.AmountMinor, &p.Currency, &p.Status, &p.ChargeID, &p.ExpiresAt, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkCompleted flips pending -> completed within the caller's transaction.
// Returns false if the record was not pending anymore; the caller then
// treats the delivery as a duplicate and must not credit again.
func (r *PaymentRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, payload, chargeID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE pending_payments
		SET status = 'completed', charge_id = $2, completed_at = now()
		WHERE payload = $1 AND status = 'pending'
	`, payload, chargeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireStale marks overdue pending records expired. Balances are never
// touched here; an expired record simply stops being completable.
func (r *PaymentRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pending_payments SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
