package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingPayment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentCancelled = "cancelled"
	PaymentExpired   = "expired"
)

// PendingPayment correlates an externally issued payment intent with an
// internal record. Payload is the idempotency key: the provider echoes it
// back in every webhook delivery, and exactly one row exists per token, so
// an at-least-once webhook credits the wallet at most once.
type PendingPayment struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Payload     string     `json:"payload"`
	Kind        string     `json:"kind"`
	AmountMinor int64      `json:"amount_minor"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	ChargeID    *string    `json:"charge_id,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Expected returns the amount the payment was registered for.
func (p *PendingPayment) Expected() Money {
	return Money{Amount: p.AmountMinor, Currency: p.Currency}
}
