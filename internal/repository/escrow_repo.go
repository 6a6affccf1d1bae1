package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketbot/backend/internal/models"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const dealColumns = `id, buyer_id, seller_id, amount_minor, currency, status, funded_at, created_at, updated_at`

func scanDeal(row pgx.Row) (*models.EscrowDeal, error) {
	var d models.EscrowDeal
	err := row.Scan(&d.ID, &d.BuyerID, &d.SellerID, &d.AmountMinor, &d.Currency, &d.Status, &d.FundedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *EscrowRepo) Create(ctx context.Context, d *models.EscrowDeal) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrow_deals (id, buyer_id, seller_id, amount_minor, currency, status)
		VALUES ($1, $2, $3, $4, $5, 'created')
		RETURNING created_at, updated_at
	`, d.ID, d.BuyerID, d.SellerID, d.AmountMinor, d.Currency).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowDeal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM escrow_deals WHERE id = $1`, id))
}

// UpdateStatusFrom advances the deal to the given status only if it is
// currently in one of the from states. Returns pgx.ErrNoRows when the guard
// fails, leaving the deal untouched — this conditional write is what
// serializes concurrent transitions on the same deal.
func (r *EscrowRepo) UpdateStatusFrom(ctx context.Context, tx pgx.Tx, id uuid.UUID, to models.EscrowStatus, from ...models.EscrowStatus) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE escrow_deals SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), states)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkFunded stamps funded_at once the buyer's debit succeeded.
func (r *EscrowRepo) MarkFunded(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE escrow_deals SET funded_at = now(), updated_at = now() WHERE id = $1
	`, id)
	return err
}

// AppendStage writes one stage-log entry within the caller's transaction.
func (r *EscrowRepo) AppendStage(ctx context.Context, tx pgx.Tx, s *models.EscrowStage) error {
	return tx.QueryRow(ctx, `
		INSERT INTO escrow_stages (id, deal_id, action, actor_id, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, s.ID, s.DealID, s.Action, s.ActorID, s.Meta).Scan(&s.CreatedAt)
}

func (r *EscrowRepo) ListStages(ctx context.Context, dealID uuid.UUID) ([]*models.EscrowStage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, action, actor_id, meta, created_at
		FROM escrow_stages WHERE deal_id = $1 ORDER BY created_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EscrowStage
	for rows.Next() {
		var s models.EscrowStage
		if err := rows.Scan(&s.ID, &s.DealID, &s.Action, &s.ActorID, &s.Meta, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}

func (r *EscrowRepo) ListByParty(ctx context.Context, partyID uuid.UUID) ([]*models.EscrowDeal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM escrow_deals
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
	`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EscrowDeal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}
