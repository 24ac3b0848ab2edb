package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quantleap/stockcast/internal/billing"
	"github.com/quantleap/stockcast/internal/keystore"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// statusForError maps domain errors onto the HTTP surface. Anything
// unmatched is an upstream/persistence failure and surfaces as 502 rather
// than being swallowed.
func statusForError(err error) int {
	switch {
	case errors.Is(err, keystore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, keystore.ErrEmailExists),
		errors.Is(err, keystore.ErrPaidKeyExists),
		errors.Is(err, keystore.ErrAlreadyRevealed),
		errors.Is(err, billing.ErrFreeKeyProtected):
		return http.StatusConflict
	case errors.Is(err, billing.ErrRemovalBlocked):
		return http.StatusLocked
	case errors.Is(err, billing.ErrAmountMismatch),
		errors.Is(err, billing.ErrUnknownPrincipal):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrUnknownPrice):
		// Configuration error, not a client mistake.
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
