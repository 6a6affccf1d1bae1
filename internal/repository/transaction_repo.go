package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketbot/backend/internal/models"
)

// TransactionRepo appends to and reads the wallet ledger. There is no
// Update or Delete on purpose: entries are immutable once written.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// CreateTx inserts a ledger entry within the caller's transaction, so the
// entry commits or rolls back together with its balance mutation.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, account_id, tx_type, amount_minor, currency, status, ref_id, ref_kind, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, t.ID, t.AccountID, t.Type, t.AmountMinor, t.Currency, t.Status, t.RefID, t.RefKind, t.Note).Scan(&t.CreatedAt)
}

func (r *TransactionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, tx_type, amount_minor, currency, status, ref_id, ref_kind, note, created_at
		FROM wallet_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.AmountMinor, &t.Currency, &t.Status, &t.RefID, &t.RefKind, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
