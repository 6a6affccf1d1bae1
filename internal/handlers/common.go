package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marketbot/backend/internal/approval"
	"github.com/marketbot/backend/internal/escrow"
	"github.com/marketbot/backend/internal/wallet"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the core error taxonomy onto HTTP statuses:
// validation 400, insufficient funds 402, missing 404, duplicates and
// invalid transitions 409.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wallet.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, wallet.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient balance")
	case errors.Is(err, wallet.ErrAccountUnavailable):
		writeError(w, http.StatusForbidden, "account suspended or frozen")
	case errors.Is(err, wallet.ErrPaymentNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, approval.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, wallet.ErrDuplicatePayload),
		errors.Is(err, wallet.ErrPaymentMismatch),
		errors.Is(err, approval.ErrDuplicatePending),
		errors.Is(err, approval.ErrAlreadyResolved),
		errors.Is(err, escrow.ErrAlreadyReleased),
		errors.Is(err, escrow.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, escrow.ErrNotParticipant),
		errors.Is(err, approval.ErrNotAdmin):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
