package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketbot/backend/internal/models"
	"github.com/marketbot/backend/internal/wallet"
)

var (
	ErrNotFound          = errors.New("escrow deal not found")
	ErrInvalidTransition = errors.New("invalid escrow transition")
	ErrAlreadyReleased   = errors.New("escrow already released")
	ErrNotParticipant    = errors.New("actor is not a party to this deal")
	ErrBadOutcome        = errors.New("unknown dispute outcome")
)

// DealRepo is the minimal escrow store interface.
type DealRepo interface {
	Create(ctx context.Context, d *models.EscrowDeal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowDeal, error)
	UpdateStatusFrom(ctx context.Context, tx pgx.Tx, id uuid.UUID, to models.EscrowStatus, from ...models.EscrowStatus) error
	MarkFunded(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	AppendStage(ctx context.Context, tx pgx.Tx, s *models.EscrowStage) error
	ListStages(ctx context.Context, dealID uuid.UUID) ([]*models.EscrowStage, error)
	ListByParty(ctx context.Context, partyID uuid.UUID) ([]*models.EscrowDeal, error)
}

// AccountRepo and TransactionRepo are the ledger seams escrow moves money
// through; every transition that touches funds writes its balance change
// and ledger entry in the same transaction as the status change.
type AccountRepo interface {
	AddBalance(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount int64) (int64, error)
	DeductBalance(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount int64) (int64, error)
}

type TransactionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

// ChangeSubmitter opens a pending change request; disputes are resolved
// through the generic approval workflow.
type ChangeSubmitter interface {
	Submit(ctx context.Context, kind models.ChangeType, subjectID string, payload json.RawMessage) (*models.ChangeRequest, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, text string)
}

// Service drives a deal through created -> funded -> confirmed -> released,
// with cancellation and the dispute path. Invalid transitions mutate
// nothing: the status change is a conditional write and every fund movement
// shares its transaction.
type Service struct {
	pool       TxBeginner
	deals      DealRepo
	accounts   AccountRepo
	entries    TransactionRepo
	changes    ChangeSubmitter
	notifier   Notifier
	currencies map[string]bool
	admins     map[uuid.UUID]bool
	log        *slog.Logger
}

func NewService(pool TxBeginner, deals DealRepo, accounts AccountRepo, entries TransactionRepo, changes ChangeSubmitter, notifier Notifier, currencies []string, admins map[uuid.UUID]bool, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	set := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		set[c] = true
	}
	return &Service{
		pool:       pool,
		deals:      deals,
		accounts:   accounts,
		entries:    entries,
		changes:    changes,
		notifier:   notifier,
		currencies: set,
		admins:     admins,
		log:        log,
	}
}

// disputePayload is the opaque diff stored on a dispute change request.
type disputePayload struct {
	DealID   uuid.UUID `json:"deal_id"`
	RaisedBy uuid.UUID `json:"raised_by"`
	Reason   string    `json:"reason"`
	Outcome  string    `json:"outcome,omitempty"`
}

func (s *Service) Create(ctx context.Context, buyerID, sellerID uuid.UUID, amount models.Money) (*models.EscrowDeal, error) {
	if !amount.Positive() {
		return nil, fmt.Errorf("%w: amount must be positive", wallet.ErrValidation)
	}
	if !s.currencies[amount.Currency] {
		return nil, wallet.ErrUnsupportedCurrency
	}
	if buyerID == sellerID {
		return nil, fmt.Errorf("%w: buyer and seller must differ", wallet.ErrValidation)
	}
	d := &models.EscrowDeal{
		ID:          uuid.New(),
		BuyerID:     buyerID,
		SellerID:    sellerID,
		AmountMinor: amount.Amount,
		Currency:    amount.Currency,
		Status:      models.EscrowCreated,
	}
	if err := s.deals.Create(ctx, d); err != nil {
		return nil, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	if err := s.appendStage(ctx, tx, d.ID, "created", buyerID, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, dealID uuid.UUID) (*models.EscrowDeal, error) {
	d, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *Service) ListByParty(ctx context.Context, partyID uuid.UUID) ([]*models.EscrowDeal, error) {
	return s.deals.ListByParty(ctx, partyID)
}

// Stages returns a deal's append-only transition log, oldest first. Only
// the parties and admins may read it.
func (s *Service) Stages(ctx context.Context, dealID, actorID uuid.UUID) ([]*models.EscrowStage, error) {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if actorID != d.BuyerID && actorID != d.SellerID && !s.admins[actorID] {
		return nil, ErrNotParticipant
	}
	return s.deals.ListStages(ctx, dealID)
}

// Fund earmarks the buyer's money for the deal: created -> funded, debiting
// the buyer by the deal amount in the same transaction. An insufficient
// balance fails the whole transition and the deal stays created.
func (s *Service) Fund(ctx context.Context, dealID, actorID uuid.UUID) error {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return err
	}
	if actorID != d.BuyerID {
		return ErrNotParticipant
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.deals.UpdateStatusFrom(ctx, tx, dealID, models.EscrowFunded, models.EscrowCreated); err != nil {
		return s.transitionErr(err)
	}
	if _, err := s.accounts.DeductBalance(ctx, tx, d.BuyerID, d.AmountMinor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.ErrInsufficientBalance
		}
		return err
	}
	if err := s.entries.CreateTx(ctx, tx, s.entry(d, d.BuyerID, models.TxEscrowHold, "escrow hold")); err != nil {
		return err
	}
	if err := s.deals.MarkFunded(ctx, tx, dealID); err != nil {
		return err
	}
	if err := s.appendStage(ctx, tx, dealID, "funded", actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.notify(ctx, d.SellerID, fmt.Sprintf("Deal %s funded by buyer (%s held in escrow)", short(dealID), d.Amount()))
	return nil
}

// Confirm is the seller declaring delivery: funded -> confirmed. No fund
// movement.
func (s *Service) Confirm(ctx context.Context, dealID, actorID uuid.UUID) error {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return err
	}
	if actorID != d.SellerID {
		return ErrNotParticipant
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.deals.UpdateStatusFrom(ctx, tx, dealID, models.EscrowConfirmed, models.EscrowFunded); err != nil {
		return s.transitionErr(err)
	}
	if err := s.appendStage(ctx, tx, dealID, "confirmed", actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.notify(ctx, d.BuyerID, fmt.Sprintf("Seller confirmed delivery on deal %s — release when satisfied", short(dealID)))
	return nil
}

// Release pays the seller: confirmed -> released, by the buyer or an admin
// override. The status guard makes it fire at most once; a second call
// fails with ErrAlreadyReleased and moves no money.
func (s *Service) Release(ctx context.Context, dealID, actorID uuid.UUID) error {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return err
	}
	if actorID != d.BuyerID && !s.admins[actorID] {
		return ErrNotParticipant
	}
	if d.Status == models.EscrowReleased {
		return ErrAlreadyReleased
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.deals.UpdateStatusFrom(ctx, tx, dealID, models.EscrowReleased, models.EscrowConfirmed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Re-read: a concurrent release that won the race is benign.
			if cur, gerr := s.Get(ctx, dealID); gerr == nil && cur.Status == models.EscrowReleased {
				return ErrAlreadyReleased
			}
			return ErrInvalidTransition
		}
		return err
	}
	if _, err := s.accounts.AddBalance(ctx, tx, d.SellerID, d.AmountMinor); err != nil {
		return err
	}
	if err := s.entries.CreateTx(ctx, tx, s.entry(d, d.SellerID, models.TxEscrowRelease, "escrow release")); err != nil {
		return err
	}
	if err := s.appendStage(ctx, tx, dealID, "released", actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.notify(ctx, d.SellerID, fmt.Sprintf("Deal %s released: %s credited to your wallet", short(dealID), d.Amount()))
	return nil
}

// Dispute freezes the deal and opens a pending change request for admin
// review. Either party may raise it from any non-terminal state.
func (s *Service) Dispute(ctx context.Context, dealID, actorID uuid.UUID, reason string) error {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return err
	}
	if actorID != d.BuyerID && actorID != d.SellerID {
		return ErrNotParticipant
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.deals.UpdateStatusFrom(ctx, tx, dealID, models.EscrowDisputed,
		models.EscrowCreated, models.EscrowFunded, models.EscrowConfirmed); err != nil {
		return s.transitionErr(err)
	}
	if err := s.appendStage(ctx, tx, dealID, "disputed", actorID, map[string]string{"reason": reason}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	payload, _ := json.Marshal(disputePayload{DealID: dealID, RaisedBy: actorID, Reason: reason})
	if _, err := s.changes.Submit(ctx, models.ChangeDispute, dealID.String(), payload); err != nil {
		// The deal is frozen either way; a missing review request is an
		// anomaly for the admins, not a reason to unfreeze.
		s.log.Error("dispute raised but change request not recorded", "deal_id", dealID, "error", err)
		return err
	}
	other := d.SellerID
	if actorID == d.SellerID {
		other = d.BuyerID
	}
	s.notify(ctx, other, fmt.Sprintf("Deal %s is under dispute and frozen pending admin review", short(dealID)))
	return nil
}

// ApplyDisputeResolution is the applier registered with the approval engine
// for dispute change requests. The engine has already verified the admin
// and the pending status; the resolved-status guard here makes the ledger
// movement run at most once even so.
func (s *Service) ApplyDisputeResolution(ctx context.Context, req models.ChangeRequest) error {
	var p disputePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("malformed dispute payload: %w", err)
	}
	adminID := uuid.Nil
	if req.ResolvedBy != nil {
		adminID = *req.ResolvedBy
	}
	return s.Resolve(ctx, p.DealID, p.Outcome, adminID)
}

// Resolve settles a disputed deal: disputed -> resolved, executing exactly
// the movement the outcome names. Never re-executed once resolved.
func (s *Service) Resolve(ctx context.Context, dealID uuid.UUID, outcome string, adminID uuid.UUID) error {
	switch outcome {
	case models.DisputeReleaseToSeller, models.DisputeRefundToBuyer, models.DisputeSplit:
	default:
		return ErrBadOutcome
	}
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.deals.UpdateStatusFrom(ctx, tx, dealID, models.EscrowResolved, models.EscrowDisputed); err != nil {
		return s.transitionErr(err)
	}
	if d.FundedAt != nil {
		if err := s.payOut(ctx, tx, d, outcome); err != nil {
			return err
		}
	}
	meta := map[string]string{"outcome": outcome}
	if err := s.appendStage(ctx, tx, dealID, "resolved", adminID, meta); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.notify(ctx, d.BuyerID, fmt.Sprintf("Dispute on deal %s resolved: %s", short(dealID), outcome))
	s.notify(ctx, d.SellerID, fmt.Sprintf("Dispute on deal %s resolved: %s", short(dealID), outcome))
	return nil
}

func (s *Service) payOut(ctx context.Context, tx pgx.Tx, d *models.EscrowDeal, outcome string) error {
	credit := func(to uuid.UUID, amount int64, note string) error {
		if amount <= 0 {
			return nil
		}
		if _, err := s.accounts.AddBalance(ctx, tx, to, amount); err != nil {
			return err
		}
		e := s.entry(d, to, models.TxEscrowRelease, note)
		e.AmountMinor = amount
		return s.entries.CreateTx(ctx, tx, e)
	}
	switch outcome {
	case models.DisputeReleaseToSeller:
		return credit(d.SellerID, d.AmountMinor, "dispute: released to seller")
	case models.DisputeRefundToBuyer:
		return credit(d.BuyerID, d.AmountMinor, "dispute: refunded to buyer")
	case models.DisputeSplit:
		sellerShare := d.AmountMinor / 2
		if err := credit(d.SellerID, sellerShare, "dispute: split, seller share"); err != nil {
			return err
		}
		return credit(d.BuyerID, d.AmountMinor-sellerShare, "dispute: split, buyer share")
	}
	return ErrBadOutcome
}

// Cancel ends the deal from created, funded or disputed. If funds were held
// the buyer is refunded exactly the held amount; otherwise the ledger is
// untouched. Cancelling a disputed deal is admin-only: party-driven
// transitions are frozen while a dispute is open, so the from-state list
// the conditional update runs against is derived from the caller's
// privilege, not from the (possibly stale) read above it.
func (s *Service) Cancel(ctx context.Context, dealID, actorID uuid.UUID) error {
	d, err := s.Get(ctx, dealID)
	if err != nil {
		return err
	}
	if actorID != d.BuyerID && actorID != d.SellerID && !s.admins[actorID] {
		return ErrNotParticipant
	}
	from := []models.EscrowStatus{models.EscrowCreated, models.EscrowFunded}
	if s.admins[actorID] {
		from = append(from, models.EscrowDisputed)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.deals.UpdateStatusFrom(ctx, tx, dealID, models.EscrowCancelled, from...); err != nil {
		return s.transitionErr(err)
	}
	if d.FundedAt != nil {
		if _, err := s.accounts.AddBalance(ctx, tx, d.BuyerID, d.AmountMinor); err != nil {
			return err
		}
		if err := s.entries.CreateTx(ctx, tx, s.entry(d, d.BuyerID, models.TxEscrowRelease, "escrow cancelled, refund")); err != nil {
			return err
		}
	}
	if err := s.appendStage(ctx, tx, dealID, "cancelled", actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.notify(ctx, d.BuyerID, fmt.Sprintf("Deal %s cancelled", short(dealID)))
	s.notify(ctx, d.SellerID, fmt.Sprintf("Deal %s cancelled", short(dealID)))
	return nil
}

func (s *Service) entry(d *models.EscrowDeal, accountID uuid.UUID, txType, note string) *models.Transaction {
	id := d.ID
	return &models.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Type:        txType,
		AmountMinor: d.AmountMinor,
		Currency:    d.Currency,
		Status:      models.TxStatusCompleted,
		RefID:       &id,
		RefKind:     "escrow",
		Note:        note,
	}
}

func (s *Service) appendStage(ctx context.Context, tx pgx.Tx, dealID uuid.UUID, action string, actorID uuid.UUID, meta map[string]string) error {
	return s.deals.AppendStage(ctx, tx, &models.EscrowStage{
		ID:      uuid.New(),
		DealID:  dealID,
		Action:  action,
		ActorID: actorID,
		Meta:    meta,
	})
}

func (s *Service) transitionErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvalidTransition
	}
	return err
}

func (s *Service) notify(ctx context.Context, to uuid.UUID, text string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, to, text)
	}
}

func short(id uuid.UUID) string { return id.String()[:8] }
