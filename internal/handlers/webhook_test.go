package handlers_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/stockcast/internal/billing"
	"github.com/quantleap/stockcast/internal/handlers"
	"github.com/quantleap/stockcast/internal/keystore"
	"github.com/quantleap/stockcast/internal/models"
)

const webhookSecret = "whsec_test"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookFixture(t *testing.T) (*handlers.WebhookHandler, *keystore.Memory, *models.Principal) {
	t.Helper()
	store := keystore.NewMemory()
	p, err := store.CreatePrincipal(context.Background(), "alice@example.com", "hash")
	require.NoError(t, err)

	reconciler := billing.NewReconciler(store, billing.DefaultCatalog(), &stubSubscriptionClient{}, time.Second)
	h := handlers.NewWebhookHandler(billing.NewHMACVerifier(webhookSecret), reconciler)
	return h, store, p
}

func deliver(h *handlers.WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/billing", bytes.NewReader(body))
	req.Header.Set("X-Billing-Signature", signature)
	rec := httptest.NewRecorder()
	h.HandleBillingEvent(rec, req)
	return rec
}

func TestWebhook_SignedEventGrantsKey(t *testing.T) {
	h, store, p := newWebhookFixture(t)

	body, err := json.Marshal(billing.Event{
		Type:        billing.EventPaymentSucceeded,
		PaymentID:   "pay_1",
		AmountCents: 900,
		PriceID:     "FIFTYCALLS",
		PrincipalID: p.ID,
	})
	require.NoError(t, err)

	rec := deliver(h, body, signBody(body))
	require.Equal(t, http.StatusOK, rec.Code)

	keys, err := store.ListKeys(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, models.TierPaid, keys[0].Tier)
	assert.Equal(t, 50, keys[0].MinuteLimit)
}

func TestWebhook_ReplayAnswers200WithoutSecondGrant(t *testing.T) {
	h, store, p := newWebhookFixture(t)

	body, err := json.Marshal(billing.Event{
		Type:        billing.EventPaymentSucceeded,
		PaymentID:   "pay_1",
		AmountCents: 900,
		PriceID:     "FIFTYCALLS",
		PrincipalID: p.ID,
	})
	require.NoError(t, err)
	sig := signBody(body)

	require.Equal(t, http.StatusOK, deliver(h, body, sig).Code)
	// The processor redelivers; the answer and the state stay the same.
	require.Equal(t, http.StatusOK, deliver(h, body, sig).Code)

	keys, err := store.ListKeys(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	h, store, p := newWebhookFixture(t)

	body, err := json.Marshal(billing.Event{
		Type:        billing.EventPaymentSucceeded,
		PaymentID:   "pay_1",
		AmountCents: 900,
		PriceID:     "FIFTYCALLS",
		PrincipalID: p.ID,
	})
	require.NoError(t, err)

	rec := deliver(h, body, "0000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	keys, err := store.ListKeys(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, keys, "unverified events never touch state")
}

func TestWebhook_MalformedBody(t *testing.T) {
	h, _, _ := newWebhookFixture(t)

	body := []byte("{not json")
	rec := deliver(h, body, signBody(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_ValidationRejectionIs400(t *testing.T) {
	h, _, p := newWebhookFixture(t)

	body, err := json.Marshal(billing.Event{
		Type:        billing.EventPaymentSucceeded,
		PaymentID:   "pay_1",
		AmountCents: 1, // FIFTYCALLS costs 900
		PriceID:     "FIFTYCALLS",
		PrincipalID: p.ID,
	})
	require.NoError(t, err)

	// Redelivering the same payload cannot succeed, so 400 stops the retries.
	rec := deliver(h, body, signBody(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
