package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction entry types.
const (
	TxDeposit       = "deposit"
	TxWithdrawal    = "withdrawal"
	TxTransferIn    = "transfer_in"
	TxTransferOut   = "transfer_out"
	TxEscrowHold    = "escrow_hold"
	TxEscrowRelease = "escrow_release"
	TxPurchase      = "purchase"
)

// Transaction statuses.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

// TxCredits reports whether entries of the given type add to the balance.
// Amounts are stored unsigned; the type carries the direction, so the
// balance can always be reconstructed as sum(credits) - sum(debits).
func TxCredits(txType string) bool {
	switch txType {
	case TxDeposit, TxTransferIn, TxEscrowRelease:
		return true
	default:
		return false
	}
}

// TxRef correlates a transaction with the record that caused it
// (an escrow deal, a pending payment, the peer leg of a transfer).
type TxRef struct {
	ID   *uuid.UUID `json:"id,omitempty"`
	Kind string     `json:"kind,omitempty"`
	Note string     `json:"note,omitempty"`
}

// Transaction is one append-only ledger entry. Rows are never edited after
// creation; they are the audit trail balances are reconstructed from.
type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	Type        string     `json:"type"`
	AmountMinor int64      `json:"amount_minor"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	RefID       *uuid.UUID `json:"ref_id,omitempty"`
	RefKind     string     `json:"ref_kind,omitempty"`
	Note        string     `json:"note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SignedAmount is the delta this entry represents for its account.
func (t *Transaction) SignedAmount() int64 {
	if TxCredits(t.Type) {
		return t.AmountMinor
	}
	return -t.AmountMinor
}
