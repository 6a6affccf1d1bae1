package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/marketbot/backend/internal/middleware"
	"github.com/marketbot/backend/internal/models"
)

// depositTTL is how long a registered deposit intent stays completable.
const depositTTL = 15 * time.Minute

// WalletService is the subset of the wallet service the handler needs.
type WalletService interface {
	GetOrCreate(ctx context.Context, ownerID uuid.UUID) (*models.Account, error)
	ListTransactions(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Transaction, error)
	RegisterPendingPayment(ctx context.Context, ownerID uuid.UUID, kind string, amount models.Money, payload string, ttl time.Duration) (*models.PendingPayment, error)
	SetAccountStatus(ctx context.Context, ownerID uuid.UUID, status string) error
}

// WalletHandler serves the authenticated wallet endpoints.
type WalletHandler struct {
	Wallet WalletService
	Logger *slog.Logger
}

// GetWallet handles GET /api/v1/wallet.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	acc, err := h.Wallet.GetOrCreate(r.Context(), u.ID)
	if err != nil {
		h.Logger.Error("get wallet", "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ListTransactions handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := h.Wallet.ListTransactions(r.Context(), u.ID, limit, offset)
	if err != nil {
		h.Logger.Error("list transactions", "error", err)
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, list)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetAccountStatus handles POST /api/v1/wallet/{owner_id}/status (admin):
// suspend, freeze or reactivate a wallet.
func (h *WalletHandler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.PathValue("owner_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner id")
		return
	}
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.Wallet.SetAccountStatus(r.Context(), ownerID, req.Status); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner_id": ownerID.String(), "status": req.Status})
}

type createDepositRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createDepositResponse struct {
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateDeposit handles POST /api/v1/wallet/deposits. It registers a
// pending payment and returns the payload token the provider invoice must
// carry.
func (h *WalletHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	payload := uuid.NewString()
	p, err := h.Wallet.RegisterPendingPayment(r.Context(), u.ID, models.TxDeposit,
		models.Money{Amount: req.Amount, Currency: req.Currency}, payload, depositTTL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createDepositResponse{Payload: p.Payload, ExpiresAt: p.ExpiresAt})
}
