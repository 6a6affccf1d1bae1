package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marketbot/backend/internal/models"
	"github.com/marketbot/backend/internal/wallet"
)

// PaymentService is the subset of the wallet service the provider boundary
// needs.
type PaymentService interface {
	ValidatePendingPayment(ctx context.Context, payload string, amount models.Money) error
	CompletePendingPayment(ctx context.Context, payload string, amount models.Money, chargeID string) (*models.PendingPayment, error)
}

// PaymentHandler serves the payment-provider callbacks. These endpoints
// are authenticated by a shared secret token, not user JWTs.
type PaymentHandler struct {
	Payments      PaymentService
	ProviderToken string
	Logger        *slog.Logger
}

// webhookRequest mirrors the provider callback payload: the invoice
// payload is the PendingPayment token, totalAmount is in minor units.
type webhookRequest struct {
	InvoicePayload   string `json:"invoice_payload"`
	TotalAmount      int64  `json:"total_amount"`
	Currency         string `json:"currency"`
	ExternalChargeID string `json:"external_charge_id"`
}

type precheckoutResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func (h *PaymentHandler) authorized(r *http.Request) bool {
	if h.ProviderToken == "" {
		return true
	}
	got := r.Header.Get("X-Provider-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.ProviderToken)) == 1
}

// Precheckout handles POST /api/v1/payments/precheckout. Answered synchronously
// before the provider captures a charge; never mutates state.
func (h *PaymentHandler) Precheckout(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "bad provider token")
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	err := h.Payments.ValidatePendingPayment(r.Context(), req.InvoicePayload,
		models.Money{Amount: req.TotalAmount, Currency: req.Currency})
	if err != nil {
		writeJSON(w, http.StatusOK, precheckoutResponse{OK: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, precheckoutResponse{OK: true})
}

// Webhook handles POST /api/v1/payments/webhook. Deliveries may repeat,
// overlap or arrive out of order; the wallet service guarantees at most
// one credit per payload token, so every duplicate gets a 200 with the
// stored result.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "bad provider token")
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.InvoicePayload == "" || req.ExternalChargeID == "" {
		writeError(w, http.StatusBadRequest, "invoice_payload and external_charge_id are required")
		return
	}
	p, err := h.Payments.CompletePendingPayment(r.Context(), req.InvoicePayload,
		models.Money{Amount: req.TotalAmount, Currency: req.Currency}, req.ExternalChargeID)
	if err != nil {
		if !errors.Is(err, wallet.ErrPaymentNotFound) && !errors.Is(err, wallet.ErrPaymentMismatch) {
			h.Logger.Error("complete pending payment", "payload", req.InvoicePayload, "error", err)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
