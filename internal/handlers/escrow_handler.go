package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/marketbot/backend/internal/middleware"
	"github.com/marketbot/backend/internal/models"
)

// EscrowService is the subset of the escrow service the handler needs.
type EscrowService interface {
	Create(ctx context.Context, buyerID, sellerID uuid.UUID, amount models.Money) (*models.EscrowDeal, error)
	Get(ctx context.Context, dealID uuid.UUID) (*models.EscrowDeal, error)
	Stages(ctx context.Context, dealID, actorID uuid.UUID) ([]*models.EscrowStage, error)
	ListByParty(ctx context.Context, partyID uuid.UUID) ([]*models.EscrowDeal, error)
	Fund(ctx context.Context, dealID, actorID uuid.UUID) error
	Confirm(ctx context.Context, dealID, actorID uuid.UUID) error
	Release(ctx context.Context, dealID, actorID uuid.UUID) error
	Dispute(ctx context.Context, dealID, actorID uuid.UUID, reason string) error
	Cancel(ctx context.Context, dealID, actorID uuid.UUID) error
}

type EscrowHandler struct {
	Escrow EscrowService
	Logger *slog.Logger
}

type createDealRequest struct {
	SellerID string `json:"seller_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateDeal handles POST /api/v1/escrows. The authenticated user is the buyer.
func (h *EscrowHandler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sellerID, err := uuid.Parse(req.SellerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid seller_id")
		return
	}
	deal, err := h.Escrow.Create(r.Context(), u.ID, sellerID, models.Money{Amount: req.Amount, Currency: req.Currency})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deal)
}

// GetDeal handles GET /api/v1/escrows/{id}.
func (h *EscrowHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	dealID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deal id")
		return
	}
	deal, err := h.Escrow.Get(r.Context(), dealID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// GetStages handles GET /api/v1/escrows/{id}/stages: the deal's
// transition log, oldest first.
func (h *EscrowHandler) GetStages(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	dealID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deal id")
		return
	}
	stages, err := h.Escrow.Stages(r.Context(), dealID, u.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if stages == nil {
		stages = []*models.EscrowStage{}
	}
	writeJSON(w, http.StatusOK, stages)
}

// ListDeals handles GET /api/v1/escrows.
func (h *EscrowHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	deals, err := h.Escrow.ListByParty(r.Context(), u.ID)
	if err != nil {
		h.Logger.Error("list deals", "error", err)
		writeDomainError(w, err)
		return
	}
	if deals == nil {
		deals = []*models.EscrowDeal{}
	}
	writeJSON(w, http.StatusOK, deals)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

// Transition handles POST /api/v1/escrows/{id}/{action} for fund, confirm,
// release, dispute and cancel.
func (h *EscrowHandler) Transition(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	dealID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deal id")
		return
	}

	switch r.PathValue("action") {
	case "fund":
		err = h.Escrow.Fund(r.Context(), dealID, u.ID)
	case "confirm":
		err = h.Escrow.Confirm(r.Context(), dealID, u.ID)
	case "release":
		err = h.Escrow.Release(r.Context(), dealID, u.ID)
	case "cancel":
		err = h.Escrow.Cancel(r.Context(), dealID, u.ID)
	case "dispute":
		var req disputeRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil || req.Reason == "" {
			writeError(w, http.StatusBadRequest, "reason is required")
			return
		}
		err = h.Escrow.Dispute(r.Context(), dealID, u.ID, req.Reason)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	deal, err := h.Escrow.Get(r.Context(), dealID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}
