package models

import (
	"time"

	"github.com/google/uuid"
)

// Account statuses. Suspended and frozen accounts refuse debits; credits
// still land so refunds cannot strand.
const (
	AccountActive    = "active"
	AccountSuspended = "suspended"
	AccountFrozen    = "frozen"
)

// Account is a user's wallet. One wallet per owner, created lazily on first
// access; the owner id is the primary key. BalanceMinor never goes negative:
// every mutation happens through a conditional UPDATE paired with exactly one
// Transaction row.
type Account struct {
	OwnerID      uuid.UUID `json:"owner_id"`
	BalanceMinor int64     `json:"balance_minor"`
	Points       int64     `json:"points"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	Version      int64     `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
