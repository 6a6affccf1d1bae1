package listings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Listing statuses. Draft listings are private; publication goes through
// the approval workflow, so pending_review sits between draft and active.
const (
	StatusDraft         = "draft"
	StatusPendingReview = "pending_review"
	StatusActive        = "active"
	StatusArchived      = "archived"
)

type Listing struct {
	ID          uuid.UUID `json:"id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	PriceMinor  int64     `json:"price_minor"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const listingColumns = `id, seller_id, title, slug, description, price_minor, currency, status, created_at, updated_at`

func scanListing(row pgx.Row) (*Listing, error) {
	var l Listing
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &l.Slug, &l.Description, &l.PriceMinor, &l.Currency, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repository) Create(ctx context.Context, l *Listing) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO listings (id, seller_id, title, slug, description, price_minor, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft')
		RETURNING created_at, updated_at
	`, l.ID, l.SellerID, l.Title, l.Slug, l.Description, l.PriceMinor, l.Currency).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return scanListing(r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
}

// UpdateStatusFrom moves the listing to the given status only if it is in
// one of the from states. Returns pgx.ErrNoRows when the guard fails.
func (r *Repository) UpdateStatusFrom(ctx context.Context, id uuid.UUID, to string, from ...string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE listings SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) ListActive(ctx context.Context) ([]*Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings WHERE status = 'active' ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}
