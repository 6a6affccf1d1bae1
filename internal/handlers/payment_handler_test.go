package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marketbot/backend/internal/models"
	"github.com/marketbot/backend/internal/wallet"
)

// mockPaymentService replays the wallet service's idempotency contract
// against a single in-memory record.
type mockPaymentService struct {
	payment  *models.PendingPayment
	credited int
}

func newMockPaymentService(payload string, amount int64) *mockPaymentService {
	return &mockPaymentService{
		payment: &models.PendingPayment{
			ID:          uuid.New(),
			OwnerID:     uuid.New(),
			Payload:     payload,
			Kind:        models.TxDeposit,
			AmountMinor: amount,
			Currency:    "USD",
			Status:      models.PaymentPending,
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
}

func (m *mockPaymentService) ValidatePendingPayment(_ context.Context, payload string, amount models.Money) error {
	if payload != m.payment.Payload {
		return wallet.ErrPaymentNotFound
	}
	if !amount.Equal(m.payment.Expected()) {
		return wallet.ErrPaymentMismatch
	}
	return nil
}

func (m *mockPaymentService) CompletePendingPayment(_ context.Context, payload string, amount models.Money, chargeID string) (*models.PendingPayment, error) {
	if payload != m.payment.Payload {
		return nil, wallet.ErrPaymentNotFound
	}
	if m.payment.Status != models.PaymentPending {
		return m.payment, nil
	}
	if !amount.Equal(m.payment.Expected()) {
		return nil, wallet.ErrPaymentMismatch
	}
	m.payment.Status = models.PaymentCompleted
	m.payment.ChargeID = &chargeID
	m.credited++
	return m.payment, nil
}

func newPaymentHandler(svc PaymentService, token string) *PaymentHandler {
	return &PaymentHandler{
		Payments:      svc,
		ProviderToken: token,
		Logger:        slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestWebhookCreditsOnce(t *testing.T) {
	svc := newMockPaymentService("tok-1", 500)
	h := newPaymentHandler(svc, "")
	body := `{"invoice_payload":"tok-1","total_amount":500,"currency":"USD","external_charge_id":"ch-1"}`

	rec := postJSON(t, h.Webhook, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var p models.PendingPayment
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("response: %v", err)
	}
	if p.Status != models.PaymentCompleted {
		t.Errorf("payment status = %s, want completed", p.Status)
	}

	// Redelivery: still 200, still exactly one credit.
	rec = postJSON(t, h.Webhook, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", rec.Code)
	}
	if svc.credited != 1 {
		t.Errorf("credits = %d after replay, want 1", svc.credited)
	}
}

func TestWebhookAmountMismatch(t *testing.T) {
	svc := newMockPaymentService("tok-1", 500)
	h := newPaymentHandler(svc, "")
	body := `{"invoice_payload":"tok-1","total_amount":999,"currency":"USD","external_charge_id":"ch-1"}`

	rec := postJSON(t, h.Webhook, body, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body)
	}
	if svc.payment.Status != models.PaymentPending {
		t.Errorf("payment status = %s, want pending (kept for reconciliation)", svc.payment.Status)
	}
}

func TestWebhookUnknownPayload(t *testing.T) {
	svc := newMockPaymentService("tok-1", 500)
	h := newPaymentHandler(svc, "")
	body := `{"invoice_payload":"other","total_amount":500,"currency":"USD","external_charge_id":"ch-1"}`

	if rec := postJSON(t, h.Webhook, body, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookRequiresFields(t *testing.T) {
	h := newPaymentHandler(newMockPaymentService("tok-1", 500), "")

	if rec := postJSON(t, h.Webhook, `{"total_amount":500}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing payload: status = %d, want 400", rec.Code)
	}
	if rec := postJSON(t, h.Webhook, `not json`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", rec.Code)
	}
}

func TestProviderTokenChecked(t *testing.T) {
	svc := newMockPaymentService("tok-1", 500)
	h := newPaymentHandler(svc, "s3cret")
	body := `{"invoice_payload":"tok-1","total_amount":500,"currency":"USD","external_charge_id":"ch-1"}`

	if rec := postJSON(t, h.Webhook, body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := postJSON(t, h.Webhook, body, map[string]string{"X-Provider-Token": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}
	if rec := postJSON(t, h.Webhook, body, map[string]string{"X-Provider-Token": "s3cret"}); rec.Code != http.StatusOK {
		t.Errorf("right token: status = %d, want 200", rec.Code)
	}
}

func TestPrecheckout(t *testing.T) {
	svc := newMockPaymentService("tok-1", 500)
	h := newPaymentHandler(svc, "")

	rec := postJSON(t, h.Precheckout, `{"invoice_payload":"tok-1","total_amount":500,"currency":"USD"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp precheckoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK {
		t.Errorf("ok = false for a valid precheckout: %s", resp.Reason)
	}

	// A failing check still answers 200; the provider reads the ok flag.
	rec = postJSON(t, h.Precheckout, `{"invoice_payload":"tok-1","total_amount":1,"currency":"USD"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OK || resp.Reason == "" {
		t.Errorf("mismatched precheckout should be refused with a reason: %+v", resp)
	}
	if svc.payment.Status != models.PaymentPending {
		t.Errorf("precheckout mutated state: %s", svc.payment.Status)
	}
}
