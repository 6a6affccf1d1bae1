package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marketbot/backend/internal/models"
)

// Sentinel errors for the ledger. ErrValidation wraps the generic
// bad-input cases so handlers can map them all to one response class.
var (
	ErrValidation          = errors.New("validation failed")
	ErrAmountNotPositive   = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrUnsupportedCurrency = fmt.Errorf("%w: unsupported currency", ErrValidation)
	ErrCurrencyMismatch    = fmt.Errorf("%w: currency does not match wallet", ErrValidation)
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountUnavailable  = errors.New("account suspended or frozen")
	ErrDuplicatePayload    = errors.New("payment payload already registered")
	ErrPaymentNotFound     = errors.New("pending payment not found")
	ErrPaymentMismatch     = errors.New("external payment does not match registered expectation")
)

// AccountRepo is the minimal wallet-account store interface for the ledger.
type AccountRepo interface {
	GetOrCreate(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Account, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Account, error)
	AddBalance(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount int64) (int64, error)
	DeductBalance(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount int64) (int64, error)
	AddPoints(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, delta int64) error
	SetStatus(ctx context.Context, ownerID uuid.UUID, status string) error
}

// TransactionRepo appends ledger entries.
type TransactionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Transaction, error)
}

// PaymentRepo stores pending external payments.
type PaymentRepo interface {
	Create(ctx context.Context, p *models.PendingPayment) error
	GetByPayload(ctx context.Context, payload string) (*models.PendingPayment, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, payload, chargeID string) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Notifier delivers fire-and-forget chat messages after a successful commit.
// Implementations must never fail the caller.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, text string)
}

// Service is the wallet ledger: balance plus append-only transaction log per
// account, and idempotent reconciliation of external payments.
type Service struct {
	pool       TxBeginner
	accounts   AccountRepo
	entries    TransactionRepo
	payments   PaymentRepo
	notifier   Notifier
	currencies map[string]bool
	auditTo    []uuid.UUID
	log        *slog.Logger
}

// pointsPerUnit is the loyalty accrual rate: one point per full currency
// unit of a completed deposit.
const pointsPerUnit = 100

func NewService(pool TxBeginner, accounts AccountRepo, entries TransactionRepo, payments PaymentRepo, notifier Notifier, currencies []string, auditTo []uuid.UUID, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	set := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		set[c] = true
	}
	return &Service{
		pool:       pool,
		accounts:   accounts,
		entries:    entries,
		payments:   payments,
		notifier:   notifier,
		currencies: set,
		auditTo:    auditTo,
		log:        log,
	}
}

// GetOrCreate returns the owner's wallet, creating it on first access.
func (s *Service) GetOrCreate(ctx context.Context, ownerID uuid.UUID) (*models.Account, error) {
	return s.accounts.GetOrCreate(ctx, ownerID, s.defaultCurrency())
}

func (s *Service) defaultCurrency() string {
	// Deterministic pick would need ordering; the configured set is small
	// and the first registered currency is the platform default.
	for _, c := range [...]string{"USD", "EUR", "XTR"} {
		if s.currencies[c] {
			return c
		}
	}
	for c := range s.currencies {
		return c
	}
	return "USD"
}

// SetAccountStatus suspends, freezes or reactivates a wallet. Suspended and
// frozen wallets refuse debits; credits still land.
func (s *Service) SetAccountStatus(ctx context.Context, ownerID uuid.UUID, status string) error {
	switch status {
	case models.AccountActive, models.AccountSuspended, models.AccountFrozen:
	default:
		return fmt.Errorf("%w: unknown account status %q", ErrValidation, status)
	}
	if _, err := s.accounts.GetOrCreate(ctx, ownerID, s.defaultCurrency()); err != nil {
		return err
	}
	return s.accounts.SetStatus(ctx, ownerID, status)
}

func (s *Service) ListTransactions(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.entries.ListByAccount(ctx, ownerID, limit, offset)
}

func (s *Service) validate(amount models.Money) error {
	if !amount.Positive() {
		return ErrAmountNotPositive
	}
	if !s.currencies[amount.Currency] {
		return ErrUnsupportedCurrency
	}
	return nil
}

// Credit adds funds and appends a completed ledger entry, atomically.
// Credits land regardless of account status so refunds cannot strand, but
// the amount must be in the wallet's own currency: the balance column is a
// single number and a foreign-currency entry would corrupt it.
func (s *Service) Credit(ctx context.Context, ownerID uuid.UUID, amount models.Money, txType string, ref models.TxRef) (*models.Transaction, error) {
	if err := s.validate(amount); err != nil {
		return nil, err
	}
	if !models.TxCredits(txType) {
		return nil, fmt.Errorf("%w: %s is not a credit type", ErrValidation, txType)
	}
	acc, err := s.accounts.GetOrCreate(ctx, ownerID, amount.Currency)
	if err != nil {
		return nil, err
	}
	if acc.Currency != amount.Currency {
		return nil, ErrCurrencyMismatch
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	entry, err := s.creditTx(ctx, tx, ownerID, amount, txType, ref)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit removes funds if the balance covers them, appending the entry in
// the same transaction as the balance change.
func (s *Service) Debit(ctx context.Context, ownerID uuid.UUID, amount models.Money, txType string, ref models.TxRef) (*models.Transaction, error) {
	if err := s.validate(amount); err != nil {
		return nil, err
	}
	if models.TxCredits(txType) {
		return nil, fmt.Errorf("%w: %s is not a debit type", ErrValidation, txType)
	}
	acc, err := s.accounts.GetOrCreate(ctx, ownerID, amount.Currency)
	if err != nil {
		return nil, err
	}
	if acc.Currency != amount.Currency {
		return nil, ErrCurrencyMismatch
	}
	if acc.Status != models.AccountActive {
		return nil, ErrAccountUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	entry, err := s.debitTx(ctx, tx, ownerID, amount, txType, ref)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) creditTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount models.Money, txType string, ref models.TxRef) (*models.Transaction, error) {
	if _, err := s.accounts.AddBalance(ctx, tx, ownerID, amount.Amount); err != nil {
		return nil, err
	}
	entry := newEntry(ownerID, amount, txType, ref)
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) debitTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount models.Money, txType string, ref models.TxRef) (*models.Transaction, error) {
	if _, err := s.accounts.DeductBalance(ctx, tx, ownerID, amount.Amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientBalance
		}
		return nil, err
	}
	entry := newEntry(ownerID, amount, txType, ref)
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func newEntry(ownerID uuid.UUID, amount models.Money, txType string, ref models.TxRef) *models.Transaction {
	return &models.Transaction{
		ID:          uuid.New(),
		AccountID:   ownerID,
		Type:        txType,
		AmountMinor: amount.Amount,
		Currency:    amount.Currency,
		Status:      models.TxStatusCompleted,
		RefID:       ref.ID,
		RefKind:     ref.Kind,
		Note:        ref.Note,
	}
}

// Transfer moves funds between two wallets. The debit commits first; if the
// credit then fails, a compensating reversal is written immediately so the
// observable balance pair is never left half-updated. A reversal that
// itself cannot be written is surfaced to the admin audit recipients rather
// than retried, since a blind retry risks double effects.
func (s *Service) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount models.Money, reason string) error {
	if err := s.validate(amount); err != nil {
		return err
	}
	if fromID == toID {
		return fmt.Errorf("%w: cannot transfer to self", ErrValidation)
	}
	to, err := s.accounts.GetOrCreate(ctx, toID, amount.Currency)
	if err != nil {
		return err
	}
	acc, err := s.accounts.GetOrCreate(ctx, fromID, amount.Currency)
	if err != nil {
		return err
	}
	// Both legs are checked up front so a mismatch never reaches the
	// debit-then-reverse path.
	if acc.Currency != amount.Currency || to.Currency != amount.Currency {
		return ErrCurrencyMismatch
	}
	if acc.Status != models.AccountActive {
		return ErrAccountUnavailable
	}

	out, err := s.Debit(ctx, fromID, amount, models.TxTransferOut, models.TxRef{Kind: "transfer", Note: reason})
	if err != nil {
		return err
	}

	_, err = s.Credit(ctx, toID, amount, models.TxTransferIn, models.TxRef{ID: &out.ID, Kind: "transfer", Note: reason})
	if err == nil {
		return nil
	}

	// Compensate: put the debited amount back on the sender.
	if _, revErr := s.Credit(ctx, fromID, amount, models.TxTransferIn, models.TxRef{ID: &out.ID, Kind: "reversal", Note: "reversal of failed transfer"}); revErr != nil {
		s.audit(ctx, fmt.Sprintf("transfer %s: credit and reversal both failed, wallet %s is short %s", out.ID, fromID, amount))
		return errors.Join(err, revErr)
	}
	return fmt.Errorf("transfer credit failed, debit reversed: %w", err)
}

// RegisterPendingPayment records an externally issued payment intent.
// The payload token must be globally unique; a duplicate registration
// fails with ErrDuplicatePayload.
func (s *Service) RegisterPendingPayment(ctx context.Context, ownerID uuid.UUID, kind string, amount models.Money, payload string, ttl time.Duration) (*models.PendingPayment, error) {
	if err := s.validate(amount); err != nil {
		return nil, err
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: payload token required", ErrValidation)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrValidation)
	}
	acc, err := s.accounts.GetOrCreate(ctx, ownerID, amount.Currency)
	if err != nil {
		return nil, err
	}
	if acc.Currency != amount.Currency {
		return nil, ErrCurrencyMismatch
	}
	p := &models.PendingPayment{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Payload:     payload,
		Kind:        kind,
		AmountMinor: amount.Amount,
		Currency:    amount.Currency,
		Status:      models.PaymentPending,
		ExpiresAt:   time.Now().Add(ttl),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePayload
		}
		return nil, err
	}
	return p, nil
}

// ValidatePendingPayment answers the provider's pre-authorization check.
// It never mutates state; a nil return means the provider may capture.
func (s *Service) ValidatePendingPayment(ctx context.Context, payload string, amount models.Money) error {
	p, err := s.payments.GetByPayload(ctx, payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPaymentNotFound
		}
		return err
	}
	if p.Status != models.PaymentPending {
		return fmt.Errorf("%w: payment is %s", ErrValidation, p.Status)
	}
	if time.Now().After(p.ExpiresAt) {
		return fmt.Errorf("%w: payment expired", ErrValidation)
	}
	if !amount.Equal(p.Expected()) {
		return ErrPaymentMismatch
	}
	return nil
}

// CompletePendingPayment is the idempotency boundary for external payment
// events. The provider may deliver the same event concurrently, out of
// order, or many times; the payload token plus the pending-status guard
// guarantee exactly one credit. A non-pending record short-circuits to the
// stored result. An amount or currency disagreement fails with
// ErrPaymentMismatch and leaves the record pending for manual
// reconciliation — it is never silently credited.
func (s *Service) CompletePendingPayment(ctx context.Context, payload string, amount models.Money, chargeID string) (*models.PendingPayment, error) {
	p, err := s.payments.GetByPayload(ctx, payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.Status != models.PaymentPending {
		return p, nil
	}
	if !amount.Equal(p.Expected()) {
		return nil, ErrPaymentMismatch
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := s.payments.MarkCompleted(ctx, tx, payload, chargeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race to a concurrent delivery; the winner credited.
		return s.payments.GetByPayload(ctx, payload)
	}
	if _, err := s.creditTx(ctx, tx, p.OwnerID, amount, p.Kind, models.TxRef{ID: &p.ID, Kind: "payment", Note: chargeID}); err != nil {
		return nil, err
	}
	if pts := amount.Amount / pointsPerUnit; pts > 0 {
		if err := s.accounts.AddPoints(ctx, tx, p.OwnerID, pts); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	now := time.Now()
	p.Status = models.PaymentCompleted
	p.ChargeID = &chargeID
	p.CompletedAt = &now

	if s.notifier != nil {
		s.notifier.Notify(ctx, p.OwnerID, fmt.Sprintf("Payment received: %s", amount))
	}
	return p, nil
}

// ExpirePendingPayments is the periodic sweep. Balances are never touched.
func (s *Service) ExpirePendingPayments(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.payments.ExpireStale(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired pending payments", "count", n)
	}
	return n, nil
}

func (s *Service) audit(ctx context.Context, text string) {
	s.log.Error("ledger anomaly", "detail", text)
	if s.notifier == nil {
		return
	}
	for _, admin := range s.auditTo {
		s.notifier.Notify(ctx, admin, "LEDGER ANOMALY: "+text)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
