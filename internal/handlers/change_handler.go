package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/marketbot/backend/internal/middleware"
	"github.com/marketbot/backend/internal/models"
	"github.com/marketbot/backend/internal/repository"
)

// ApprovalService is the subset of the approval engine the handler needs.
type ApprovalService interface {
	Submit(ctx context.Context, kind models.ChangeType, subjectID string, payload json.RawMessage) (*models.ChangeRequest, error)
	Approve(ctx context.Context, id, adminID uuid.UUID) error
	Reject(ctx context.Context, id, adminID uuid.UUID, reason string) error
	Get(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error)
	List(ctx context.Context, f repository.ChangeFilter, limit, offset int) ([]*models.ChangeRequest, error)
}

type ChangeHandler struct {
	Approvals ApprovalService
	Logger    *slog.Logger
}

type submitChangeRequest struct {
	Kind      string          `json:"kind"`
	SubjectID string          `json:"subject_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Submit handles POST /api/v1/changes. Role and profile requests always
// target the caller; dispute requests are opened by the escrow service,
// not through this endpoint.
func (h *ChangeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req submitChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	kind := models.ChangeType(req.Kind)
	var subject string
	switch kind {
	case models.ChangeRole, models.ChangeProfile:
		subject = u.ID.String()
	case models.ChangeListing:
		if req.SubjectID == "" {
			writeError(w, http.StatusBadRequest, "subject_id required for listing changes")
			return
		}
		subject = req.SubjectID
	default:
		writeError(w, http.StatusBadRequest, "unknown change kind")
		return
	}

	created, err := h.Approvals.Submit(r.Context(), kind, subject, req.Payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/v1/changes (admin). Newest first, paged.
func (h *ChangeHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	f := repository.ChangeFilter{
		Kind:   models.ChangeType(q.Get("kind")),
		Status: q.Get("status"),
	}
	list, err := h.Approvals.List(r.Context(), f, limit, offset)
	if err != nil {
		h.Logger.Error("list change requests", "error", err)
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []*models.ChangeRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Resolve handles POST /api/v1/changes/{id}/{action} for approve and
// reject (admin).
func (h *ChangeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	switch r.PathValue("action") {
	case "approve":
		err = h.Approvals.Approve(r.Context(), id, u.ID)
	case "reject":
		var req rejectRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		err = h.Approvals.Reject(r.Context(), id, u.ID, req.Reason)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resolved, err := h.Approvals.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
