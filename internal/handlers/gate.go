package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/quantleap/stockcast/internal/billing"
	"github.com/quantleap/stockcast/internal/keystore"
	"github.com/quantleap/stockcast/internal/models"
	"github.com/quantleap/stockcast/internal/predictor"
	"github.com/quantleap/stockcast/internal/quota"
)

// ForecastHandler is the metered request pipeline: secret lookup, limit
// resolution, quota admission, then delegation to the predictor.
type ForecastHandler struct {
	store     keystore.Store
	ledger    quota.Ledger
	catalog   *billing.Catalog
	predictor predictor.Predictor

	freeMinuteLimit int
	freeDayLimit    int
}

func NewForecastHandler(store keystore.Store, ledger quota.Ledger, catalog *billing.Catalog, p predictor.Predictor, freeMinuteLimit, freeDayLimit int) *ForecastHandler {
	return &ForecastHandler{
		store:           store,
		ledger:          ledger,
		catalog:         catalog,
		predictor:       p,
		freeMinuteLimit: freeMinuteLimit,
		freeDayLimit:    freeDayLimit,
	}
}

type rateLimitedResponse struct {
	Error           string `json:"error"`
	MinuteRemaining int    `json:"minute_remaining"`
	DayRemaining    int    `json:"day_remaining"`
}

// Forecast serves one prediction for an API-key-authenticated caller.
// GET /api/v1/forecast/{symbol}
func (h *ForecastHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	secret, ok := bearerToken(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing API key")
		return
	}

	ctx := r.Context()
	_, key, err := h.store.FindBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		log.Error().Err(err).Msg("Forecast: key lookup failed")
		respondError(w, http.StatusBadGateway, "key lookup failed")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	minuteLimit, dayLimit, err := h.effectiveLimits(key)
	if err != nil {
		// An unresolvable price identifier on a live paid key is broken
		// configuration, never a silent default tier.
		log.Error().Err(err).Str("key_id", key.ID).Msg("Forecast: unresolvable price identifier")
		respondError(w, http.StatusInternalServerError, "key misconfigured, contact support")
		return
	}

	decision, err := h.ledger.CheckAndIncrement(ctx, key.ID, minuteLimit, dayLimit)
	if err != nil {
		log.Error().Err(err).Str("key_id", key.ID).Msg("Forecast: quota check failed")
		respondError(w, http.StatusBadGateway, "quota check failed")
		return
	}

	w.Header().Set("X-RateLimit-Minute-Remaining", strconv.Itoa(decision.MinuteRemaining))
	w.Header().Set("X-RateLimit-Day-Remaining", strconv.Itoa(decision.DayRemaining))

	if !decision.Allowed {
		respondJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
			Error:           "rate limit exceeded",
			MinuteRemaining: decision.MinuteRemaining,
			DayRemaining:    decision.DayRemaining,
		})
		return
	}

	// Quota is charged from here on, whatever the predictor does.
	h.recordUsage(key.ID)

	forecast, err := h.predictor.Predict(ctx, symbol)
	if err != nil {
		switch {
		case errors.Is(err, predictor.ErrInvalidSymbol):
			respondError(w, http.StatusBadRequest, "unknown symbol")
		case errors.Is(err, predictor.ErrTimeout):
			respondError(w, http.StatusGatewayTimeout, "prediction timed out")
		case errors.Is(err, predictor.ErrModelUnavailable):
			respondError(w, http.StatusBadRequest, "model unavailable")
		default:
			log.Error().Err(err).Str("symbol", symbol).Msg("Forecast: predictor error")
			respondError(w, http.StatusBadGateway, "prediction failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, forecast)
}

// effectiveLimits resolves a key's limits: free keys from configuration,
// paid keys from the canonical price table.
func (h *ForecastHandler) effectiveLimits(key *models.ApiKey) (int, int, error) {
	if key.Tier != models.TierPaid {
		return h.freeMinuteLimit, h.freeDayLimit, nil
	}
	if key.PriceID == nil {
		return 0, 0, billing.ErrUnknownPrice
	}
	plan, err := h.catalog.Resolve(*key.PriceID)
	if err != nil {
		return 0, 0, err
	}
	return plan.PerMinute, plan.PerDay, nil
}

// recordUsage bumps the usage counter off the request path. A failed write
// is logged and dropped; it never fails an admitted request.
func (h *ForecastHandler) recordUsage(keyID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.store.RecordUsage(ctx, keyID); err != nil {
			log.Warn().Err(err).Str("key_id", keyID).Msg("Usage counter write failed")
		}
	}()
}
