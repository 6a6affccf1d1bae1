package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowStatus is the state of a deal. Transitions only ever advance:
// created -> funded -> confirmed -> released; created|funded|disputed ->
// cancelled; any non-terminal -> disputed -> resolved.
type EscrowStatus string

const (
	EscrowCreated   EscrowStatus = "created"
	EscrowFunded    EscrowStatus = "funded"
	EscrowConfirmed EscrowStatus = "confirmed"
	EscrowReleased  EscrowStatus = "released"
	EscrowDisputed  EscrowStatus = "disputed"
	EscrowResolved  EscrowStatus = "resolved"
	EscrowCancelled EscrowStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowReleased || s == EscrowResolved || s == EscrowCancelled
}

// Dispute resolution outcomes.
const (
	DisputeReleaseToSeller = "release_to_seller"
	DisputeRefundToBuyer   = "refund_to_buyer"
	DisputeSplit           = "split"
)

// EscrowDeal coordinates a two-party deal. FundedAt is set when the buyer's
// funds are debited and tells cancel/resolve whether money is actually held.
type EscrowDeal struct {
	ID          uuid.UUID    `json:"id"`
	BuyerID     uuid.UUID    `json:"buyer_id"`
	SellerID    uuid.UUID    `json:"seller_id"`
	AmountMinor int64        `json:"amount_minor"`
	Currency    string       `json:"currency"`
	Status      EscrowStatus `json:"status"`
	FundedAt    *time.Time   `json:"funded_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (d *EscrowDeal) Amount() Money {
	return Money{Amount: d.AmountMinor, Currency: d.Currency}
}

// EscrowStage is one append-only entry in a deal's stage log. The log is
// never rewritten; every transition appends exactly one entry.
type EscrowStage struct {
	ID        uuid.UUID         `json:"id"`
	DealID    uuid.UUID         `json:"deal_id"`
	Action    string            `json:"action"`
	ActorID   uuid.UUID         `json:"actor_id"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
