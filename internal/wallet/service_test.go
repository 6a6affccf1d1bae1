package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marketbot/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- AccountRepo mock ---

type mockAccounts struct {
	accounts  map[uuid.UUID]*models.Account
	creditErr map[uuid.UUID]error // AddBalance failure injection per owner
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{
		accounts:  make(map[uuid.UUID]*models.Account),
		creditErr: make(map[uuid.UUID]error),
	}
}

func (m *mockAccounts) GetOrCreate(_ context.Context, ownerID uuid.UUID, currency string) (*models.Account, error) {
	if acc, ok := m.accounts[ownerID]; ok {
		return acc, nil
	}
	acc := &models.Account{OwnerID: ownerID, Currency: currency, Status: models.AccountActive}
	m.accounts[ownerID] = acc
	return acc, nil
}

func (m *mockAccounts) GetByOwner(_ context.Context, ownerID uuid.UUID) (*models.Account, error) {
	acc, ok := m.accounts[ownerID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return acc, nil
}

func (m *mockAccounts) AddBalance(_ context.Context, _ pgx.Tx, ownerID uuid.UUID, amount int64) (int64, error) {
	if err := m.creditErr[ownerID]; err != nil {
		return 0, err
	}
	acc, ok := m.accounts[ownerID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	acc.BalanceMinor += amount
	acc.Version++
	return acc.BalanceMinor, nil
}

func (m *mockAccounts) DeductBalance(_ context.Context, _ pgx.Tx, ownerID uuid.UUID, amount int64) (int64, error) {
	acc, ok := m.accounts[ownerID]
	if !ok || acc.BalanceMinor < amount {
		return 0, pgx.ErrNoRows
	}
	acc.BalanceMinor -= amount
	acc.Version++
	return acc.BalanceMinor, nil
}

func (m *mockAccounts) AddPoints(_ context.Context, _ pgx.Tx, ownerID uuid.UUID, delta int64) error {
	acc, ok := m.accounts[ownerID]
	if !ok {
		return pgx.ErrNoRows
	}
	acc.Points += delta
	return nil
}

func (m *mockAccounts) SetStatus(_ context.Context, ownerID uuid.UUID, status string) error {
	acc, ok := m.accounts[ownerID]
	if !ok {
		return pgx.ErrNoRows
	}
	acc.Status = status
	return nil
}

// --- TransactionRepo mock ---

type mockEntries struct {
	entries []*models.Transaction
}

func (m *mockEntries) CreateTx(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	m.entries = append(m.entries, t)
	return nil
}

func (m *mockEntries) ListByAccount(_ context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].AccountID == accountID {
			out = append(out, m.entries[i])
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockEntries) forAccount(id uuid.UUID) []*models.Transaction {
	var out []*models.Transaction
	for _, e := range m.entries {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return out
}

// --- PaymentRepo mock ---

type mockPayments struct {
	byPayload map[string]*models.PendingPayment
}

func newMockPayments() *mockPayments {
	return &mockPayments{byPayload: make(map[string]*models.PendingPayment)}
}

func (m *mockPayments) Create(_ context.Context, p *models.PendingPayment) error {
	if _, ok := m.byPayload[p.Payload]; ok {
		return &pgconn.PgError{Code: "23505"}
	}
	cp := *p
	m.byPayload[p.Payload] = &cp
	return nil
}

func (m *mockPayments) GetByPayload(_ context.Context, payload string) (*models.PendingPayment, error) {
	p, ok := m.byPayload[payload]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *mockPayments) MarkCompleted(_ context.Context, _ pgx.Tx, payload, chargeID string) (bool, error) {
	p, ok := m.byPayload[payload]
	if !ok || p.Status != models.PaymentPending {
		return false, nil
	}
	now := time.Now()
	p.Status = models.PaymentCompleted
	p.ChargeID = &chargeID
	p.CompletedAt = &now
	return true, nil
}

func (m *mockPayments) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, p := range m.byPayload {
		if p.Status == models.PaymentPending && p.ExpiresAt.Before(now) {
			p.Status = models.PaymentExpired
			n++
		}
	}
	return n, nil
}

// --- Notifier mock ---

type sentMsg struct {
	to   uuid.UUID
	text string
}

type mockNotifier struct {
	msgs []sentMsg
}

func (m *mockNotifier) Notify(_ context.Context, to uuid.UUID, text string) {
	m.msgs = append(m.msgs, sentMsg{to: to, text: text})
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc      *Service
	accounts *mockAccounts
	entries  *mockEntries
	payments *mockPayments
	notifier *mockNotifier
	admin    uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		accounts: newMockAccounts(),
		entries:  &mockEntries{},
		payments: newMockPayments(),
		notifier: &mockNotifier{},
		admin:    uuid.New(),
	}
	f.svc = NewService(mockPool{}, f.accounts, f.entries, f.payments, f.notifier,
		[]string{"USD"}, []uuid.UUID{f.admin}, nil)
	return f
}

func (f *fixture) fund(t *testing.T, owner uuid.UUID, amount int64) {
	t.Helper()
	if _, err := f.svc.Credit(context.Background(), owner, usd(amount), models.TxDeposit, models.TxRef{}); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func usd(amount int64) models.Money {
	return models.Money{Amount: amount, Currency: "USD"}
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func TestCreditAppendsEntry(t *testing.T) {
	f := newFixture()
	owner := uuid.New()

	entry, err := f.svc.Credit(context.Background(), owner, usd(500), models.TxDeposit, models.TxRef{Note: "first"})
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if entry.Status != models.TxStatusCompleted {
		t.Errorf("entry status = %s, want completed", entry.Status)
	}
	if entry.AmountMinor != 500 || entry.Type != models.TxDeposit {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if got := f.accounts.accounts[owner].BalanceMinor; got != 500 {
		t.Errorf("balance = %d, want 500", got)
	}
	if len(f.entries.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(f.entries.entries))
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.fund(t, owner, 100)

	_, err := f.svc.Debit(context.Background(), owner, usd(101), models.TxWithdrawal, models.TxRef{})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := f.accounts.accounts[owner].BalanceMinor; got != 100 {
		t.Errorf("balance = %d, want 100 (unchanged)", got)
	}
	// Only the funding entry exists; a failed debit appends nothing.
	if got := len(f.entries.forAccount(owner)); got != 1 {
		t.Errorf("got %d entries, want 1", got)
	}
}

func TestDebitRefusedWhenSuspended(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.fund(t, owner, 1000)
	f.accounts.accounts[owner].Status = models.AccountSuspended

	_, err := f.svc.Debit(context.Background(), owner, usd(100), models.TxWithdrawal, models.TxRef{})
	if !errors.Is(err, ErrAccountUnavailable) {
		t.Fatalf("err = %v, want ErrAccountUnavailable", err)
	}
}

func TestSetAccountStatus(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.fund(t, owner, 1000)
	ctx := context.Background()

	if err := f.svc.SetAccountStatus(ctx, owner, models.AccountFrozen); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}
	if _, err := f.svc.Debit(ctx, owner, usd(1), models.TxWithdrawal, models.TxRef{}); !errors.Is(err, ErrAccountUnavailable) {
		t.Errorf("debit on frozen wallet err = %v, want ErrAccountUnavailable", err)
	}
	if err := f.svc.SetAccountStatus(ctx, owner, "vaporized"); !errors.Is(err, ErrValidation) {
		t.Errorf("bad status err = %v, want ErrValidation", err)
	}
	if err := f.svc.SetAccountStatus(ctx, owner, models.AccountActive); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := f.svc.Debit(ctx, owner, usd(1), models.TxWithdrawal, models.TxRef{}); err != nil {
		t.Errorf("debit after reactivation: %v", err)
	}
}

func TestCreditLandsOnFrozenAccount(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.fund(t, owner, 100)
	f.accounts.accounts[owner].Status = models.AccountFrozen

	if _, err := f.svc.Credit(context.Background(), owner, usd(50), models.TxTransferIn, models.TxRef{}); err != nil {
		t.Fatalf("Credit on frozen account: %v", err)
	}
	if got := f.accounts.accounts[owner].BalanceMinor; got != 150 {
		t.Errorf("balance = %d, want 150", got)
	}
}

func TestAmountValidation(t *testing.T) {
	f := newFixture()
	owner := uuid.New()

	_, err := f.svc.Credit(context.Background(), owner, usd(0), models.TxDeposit, models.TxRef{})
	if !errors.Is(err, ErrAmountNotPositive) || !errors.Is(err, ErrValidation) {
		t.Errorf("zero amount err = %v, want ErrAmountNotPositive", err)
	}
	_, err = f.svc.Credit(context.Background(), owner, models.Money{Amount: 100, Currency: "BTC"}, models.TxDeposit, models.TxRef{})
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Errorf("bad currency err = %v, want ErrUnsupportedCurrency", err)
	}
	_, err = f.svc.Debit(context.Background(), owner, usd(100), models.TxDeposit, models.TxRef{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("debit with credit type err = %v, want ErrValidation", err)
	}
}

func TestCurrencyMismatchRejected(t *testing.T) {
	f := newFixture()
	f.svc = NewService(mockPool{}, f.accounts, f.entries, f.payments, f.notifier,
		[]string{"USD", "EUR"}, []uuid.UUID{f.admin}, nil)
	owner := uuid.New()
	ctx := context.Background()
	f.fund(t, owner, 1000) // wallet opens in USD

	// EUR is a supported currency, but not this wallet's currency.
	eur := models.Money{Amount: 1000, Currency: "EUR"}
	if _, err := f.svc.Debit(ctx, owner, eur, models.TxWithdrawal, models.TxRef{}); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("EUR debit on USD wallet err = %v, want ErrCurrencyMismatch", err)
	}
	if _, err := f.svc.Credit(ctx, owner, eur, models.TxDeposit, models.TxRef{}); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("EUR credit on USD wallet err = %v, want ErrCurrencyMismatch", err)
	}
	if _, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, eur, "tok-eur", time.Hour); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("EUR deposit registration err = %v, want ErrCurrencyMismatch", err)
	}
	if got := f.accounts.accounts[owner].BalanceMinor; got != 1000 {
		t.Errorf("balance = %d, want 1000 (untouched)", got)
	}
	// Only the USD funding entry exists; the log never mixes currencies.
	entries := f.entries.forAccount(owner)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Currency != "USD" {
		t.Errorf("entry currency = %s, want USD", entries[0].Currency)
	}
}

func TestTransferCurrencyMismatchMovesNothing(t *testing.T) {
	f := newFixture()
	f.svc = NewService(mockPool{}, f.accounts, f.entries, f.payments, f.notifier,
		[]string{"USD", "EUR"}, []uuid.UUID{f.admin}, nil)
	from, to := uuid.New(), uuid.New()
	f.fund(t, from, 1000)
	f.accounts.accounts[to] = &models.Account{OwnerID: to, Currency: "EUR", Status: models.AccountActive}

	if err := f.svc.Transfer(context.Background(), from, to, usd(300), ""); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("USD transfer into EUR wallet err = %v, want ErrCurrencyMismatch", err)
	}
	if got := f.accounts.accounts[from].BalanceMinor; got != 1000 {
		t.Errorf("sender balance = %d, want 1000", got)
	}
	if got := f.accounts.accounts[to].BalanceMinor; got != 0 {
		t.Errorf("recipient balance = %d, want 0", got)
	}
}

func TestTransfer(t *testing.T) {
	f := newFixture()
	from, to := uuid.New(), uuid.New()
	f.fund(t, from, 1000)

	if err := f.svc.Transfer(context.Background(), from, to, usd(300), "for the thing"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := f.accounts.accounts[from].BalanceMinor; got != 700 {
		t.Errorf("sender balance = %d, want 700", got)
	}
	if got := f.accounts.accounts[to].BalanceMinor; got != 300 {
		t.Errorf("recipient balance = %d, want 300", got)
	}

	outs := f.entries.forAccount(from)
	ins := f.entries.forAccount(to)
	if len(ins) != 1 || ins[0].Type != models.TxTransferIn {
		t.Fatalf("recipient entries = %+v, want one transfer_in", ins)
	}
	// The credit leg references the debit leg.
	if ins[0].RefID == nil || *ins[0].RefID != outs[len(outs)-1].ID {
		t.Errorf("transfer_in does not reference the transfer_out entry")
	}
}

func TestTransferToSelf(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.fund(t, owner, 1000)

	err := f.svc.Transfer(context.Background(), owner, owner, usd(100), "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestTransferCreditFailureWritesReversal(t *testing.T) {
	f := newFixture()
	from, to := uuid.New(), uuid.New()
	f.fund(t, from, 1000)
	f.accounts.creditErr[to] = fmt.Errorf("connection reset")

	err := f.svc.Transfer(context.Background(), from, to, usd(400), "")
	if err == nil {
		t.Fatal("Transfer should fail when the credit leg fails")
	}
	// Sender is made whole by the compensating entry.
	if got := f.accounts.accounts[from].BalanceMinor; got != 1000 {
		t.Errorf("sender balance = %d, want 1000 after reversal", got)
	}
	var reversal *models.Transaction
	for _, e := range f.entries.forAccount(from) {
		if e.RefKind == "reversal" {
			reversal = e
		}
	}
	if reversal == nil {
		t.Fatal("no reversal entry written")
	}
	if reversal.Type != models.TxTransferIn || reversal.AmountMinor != 400 {
		t.Errorf("unexpected reversal entry: %+v", reversal)
	}
}

func TestTransferReversalFailureAlertsAdmins(t *testing.T) {
	f := newFixture()
	from, to := uuid.New(), uuid.New()
	f.fund(t, from, 1000)
	f.accounts.creditErr[to] = fmt.Errorf("connection reset")
	f.accounts.creditErr[from] = fmt.Errorf("still down")

	err := f.svc.Transfer(context.Background(), from, to, usd(400), "")
	if err == nil {
		t.Fatal("Transfer should fail")
	}
	if len(f.notifier.msgs) == 0 {
		t.Fatal("no audit notification sent")
	}
	last := f.notifier.msgs[len(f.notifier.msgs)-1]
	if last.to != f.admin || !strings.Contains(last.text, "LEDGER ANOMALY") {
		t.Errorf("unexpected audit message: %+v", last)
	}
}

func TestBalanceEqualsSumOfSignedEntries(t *testing.T) {
	f := newFixture()
	owner, peer := uuid.New(), uuid.New()
	ctx := context.Background()

	f.fund(t, owner, 2500)
	if _, err := f.svc.Debit(ctx, owner, usd(400), models.TxWithdrawal, models.TxRef{}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Transfer(ctx, owner, peer, usd(600), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Credit(ctx, owner, usd(90), models.TxEscrowRelease, models.TxRef{}); err != nil {
		t.Fatal(err)
	}

	var sum int64
	for _, e := range f.entries.forAccount(owner) {
		sum += e.SignedAmount()
	}
	if got := f.accounts.accounts[owner].BalanceMinor; got != sum {
		t.Errorf("balance %d diverges from entry sum %d", got, sum)
	}
}

// ---------------------------------------------------------------------------
// External payments
// ---------------------------------------------------------------------------

func TestRegisterPendingPaymentDuplicatePayload(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	if _, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, usd(500), "tok-1", time.Hour); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, usd(500), "tok-1", time.Hour)
	if !errors.Is(err, ErrDuplicatePayload) {
		t.Fatalf("err = %v, want ErrDuplicatePayload", err)
	}
}

func TestValidatePendingPayment(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	if _, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, usd(500), "tok-1", time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.ValidatePendingPayment(ctx, "tok-1", usd(500)); err != nil {
		t.Errorf("valid payment rejected: %v", err)
	}
	if err := f.svc.ValidatePendingPayment(ctx, "tok-1", usd(499)); !errors.Is(err, ErrPaymentMismatch) {
		t.Errorf("wrong amount err = %v, want ErrPaymentMismatch", err)
	}
	if err := f.svc.ValidatePendingPayment(ctx, "no-such", usd(500)); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("unknown payload err = %v, want ErrPaymentNotFound", err)
	}

	f.payments.byPayload["tok-1"].ExpiresAt = time.Now().Add(-time.Minute)
	if err := f.svc.ValidatePendingPayment(ctx, "tok-1", usd(500)); !errors.Is(err, ErrValidation) {
		t.Errorf("expired payment err = %v, want ErrValidation", err)
	}
}

func TestCompletePendingPayment(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	if _, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, usd(500), "tok-1", time.Hour); err != nil {
		t.Fatal(err)
	}
	p, err := f.svc.CompletePendingPayment(ctx, "tok-1", usd(500), "charge-abc")
	if err != nil {
		t.Fatalf("CompletePendingPayment: %v", err)
	}
	if p.Status != models.PaymentCompleted || p.ChargeID == nil || *p.ChargeID != "charge-abc" {
		t.Errorf("unexpected payment state: %+v", p)
	}
	if got := f.accounts.accounts[owner].BalanceMinor; got != 500 {
		t.Errorf("balance = %d, want 500", got)
	}
	if got := f.accounts.accounts[owner].Points; got != 5 {
		t.Errorf("points = %d, want 5", got)
	}
	if len(f.notifier.msgs) != 1 || f.notifier.msgs[0].to != owner {
		t.Errorf("owner not notified: %+v", f.notifier.msgs)
	}
}

func TestCompletePendingPaymentReplay(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	if _, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, usd(500), "tok-1", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CompletePendingPayment(ctx, "tok-1", usd(500), "charge-abc"); err != nil {
		t.Fatal(err)
	}

	// The provider retries the same event; it must not credit twice.
	p, err := f.svc.CompletePendingPayment(ctx, "tok-1", usd(500), "charge-abc")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if p.Status != models.PaymentCompleted {
		t.Errorf("replay status = %s, want completed", p.Status)
	}
	if got := f.accounts.accounts[owner].BalanceMinor; got != 500 {
		t.Errorf("balance = %d after replay, want 500", got)
	}
	if got := len(f.entries.forAccount(owner)); got != 1 {
		t.Errorf("got %d entries after replay, want 1", got)
	}
}

func TestCompletePendingPaymentMismatchStaysPending(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	if _, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, usd(500), "tok-1", time.Hour); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.CompletePendingPayment(ctx, "tok-1", usd(999), "charge-abc")
	if !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("err = %v, want ErrPaymentMismatch", err)
	}
	// Record stays pending for manual reconciliation, nothing credited.
	if got := f.payments.byPayload["tok-1"].Status; got != models.PaymentPending {
		t.Errorf("payment status = %s, want pending", got)
	}
	if got := f.accounts.accounts[owner].BalanceMinor; got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestExpirePendingPayments(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	ctx := context.Background()

	if _, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, usd(100), "stale", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RegisterPendingPayment(ctx, owner, models.TxDeposit, usd(100), "fresh", time.Hour); err != nil {
		t.Fatal(err)
	}
	f.payments.byPayload["stale"].ExpiresAt = time.Now().Add(-time.Minute)

	n, err := f.svc.ExpirePendingPayments(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpirePendingPayments: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d payments, want 1", n)
	}
	if got := f.payments.byPayload["stale"].Status; got != models.PaymentExpired {
		t.Errorf("stale status = %s, want expired", got)
	}
	if got := f.payments.byPayload["fresh"].Status; got != models.PaymentPending {
		t.Errorf("fresh status = %s, want pending", got)
	}
}
