package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/quantleap/stockcast/internal/billing"
)

type WebhookHandler struct {
	verifier   billing.Verifier
	reconciler *billing.Reconciler
}

func NewWebhookHandler(verifier billing.Verifier, reconciler *billing.Reconciler) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, reconciler: reconciler}
}

// HandleBillingEvent ingests one signed processor event.
// POST /api/webhook/billing
//
// Duplicates are fine: the reconciler is idempotent by state, so a replayed
// event answers 200 like the first delivery did. 5xx is reserved for actual
// internal failure, which makes the processor redeliver.
func (h *WebhookHandler) HandleBillingEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get("X-Billing-Signature")); err != nil {
		log.Warn().Msg("Webhook: signature verification failed")
		respondError(w, http.StatusBadRequest, "bad signature")
		return
	}

	var ev billing.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "malformed event")
		return
	}

	if err := h.reconciler.HandleEvent(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, billing.ErrAmountMismatch),
			errors.Is(err, billing.ErrUnknownPrice),
			errors.Is(err, billing.ErrUnknownPrincipal):
			// Rejected by validation, not by an outage. Redelivery of the
			// same payload cannot succeed, so tell the processor to stop.
			log.Warn().Err(err).Str("payment_id", ev.PaymentID).Msg("Webhook: event rejected")
			respondError(w, http.StatusBadRequest, "event rejected")
		default:
			log.Error().Err(err).Str("payment_id", ev.PaymentID).Msg("Webhook: event processing failed")
			respondError(w, http.StatusInternalServerError, "event processing failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
