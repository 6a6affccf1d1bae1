package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketbot/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `owner_id, balance_minor, points, currency, status, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.OwnerID, &a.BalanceMinor, &a.Points, &a.Currency, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetOrCreate inserts the owner's wallet on first access. The no-op upsert
// makes the call idempotent and still returns the row either way.
func (r *AccountRepo) GetOrCreate(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		INSERT INTO wallet_accounts (owner_id, balance_minor, points, currency, status)
		VALUES ($1, 0, 0, $2, 'active')
		ON CONFLICT (owner_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
		RETURNING `+accountColumns+`
	`, ownerID, currency))
}

func (r *AccountRepo) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM wallet_accounts WHERE owner_id = $1
	`, ownerID))
}

// AddBalance adds amount to the wallet and returns the new balance.
// Call within a transaction alongside the ledger entry for the movement.
func (r *AccountRepo) AddBalance(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallet_accounts
		SET balance_minor = balance_minor + $1, version = version + 1, updated_at = now()
		WHERE owner_id = $2
		RETURNING balance_minor
	`, amount, ownerID).Scan(&newBalance)
	return newBalance, err
}

// DeductBalance deducts amount if the balance covers it. Returns
// pgx.ErrNoRows when the guard fails; the balance is untouched in that case.
func (r *AccountRepo) DeductBalance(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallet_accounts
		SET balance_minor = balance_minor - $1, version = version + 1, updated_at = now()
		WHERE owner_id = $2 AND balance_minor >= $1
		RETURNING balance_minor
	`, amount, ownerID).Scan(&newBalance)
	return newBalance, err
}

// AddPoints bumps the secondary point balance.
func (r *AccountRepo) AddPoints(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, delta int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallet_accounts SET points = points + $1, updated_at = now() WHERE owner_id = $2
	`, delta, ownerID)
	return err
}

func (r *AccountRepo) SetStatus(ctx context.Context, ownerID uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE wallet_accounts SET status = $2, version = version + 1, updated_at = now() WHERE owner_id = $1
	`, ownerID, status)
	return err
}
