package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/quantleap/stockcast/internal/training"
)

type AdminHandler struct {
	submitter training.Submitter
}

func NewAdminHandler(submitter training.Submitter) *AdminHandler {
	return &AdminHandler{submitter: submitter}
}

// Retrain queues a model retraining job for the external runner.
// POST /api/v1/admin/retrain
func (h *AdminHandler) Retrain(w http.ResponseWriter, r *http.Request) {
	principalID, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	jobID, err := h.submitter.SubmitRetrain(r.Context(), principalID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to submit retraining job")
		respondError(w, http.StatusBadGateway, "failed to queue retraining job")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}
