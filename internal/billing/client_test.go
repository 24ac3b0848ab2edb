package billing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/stockcast/internal/billing"
)

func subscriptionServer(t *testing.T, body string, wantQuery map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		for k, v := range wantQuery {
			assert.Equal(t, v, r.URL.Query().Get(k))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestActiveSubscription_ByID(t *testing.T) {
	srv := subscriptionServer(t,
		`{"subscriptions":[{"id":"sub_1","price_id":"FIFTYCALLS","status":"active"}]}`,
		map[string]string{"id": "sub_1"})
	defer srv.Close()

	c := billing.NewHTTPClient(srv.URL, "test-api-key", time.Second)
	active, err := c.ActiveSubscription(context.Background(), "sub_1", "", "")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestActiveSubscription_EmailFallbackQuery(t *testing.T) {
	srv := subscriptionServer(t,
		`{"subscriptions":[]}`,
		map[string]string{"customer_email": "alice@example.com", "price_id": "FIFTYCALLS"})
	defer srv.Close()

	c := billing.NewHTTPClient(srv.URL, "test-api-key", time.Second)
	active, err := c.ActiveSubscription(context.Background(), "", "alice@example.com", "FIFTYCALLS")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestActiveSubscription_CanceledDoesNotCount(t *testing.T) {
	srv := subscriptionServer(t,
		`{"subscriptions":[{"id":"sub_1","price_id":"FIFTYCALLS","status":"canceled"}]}`,
		nil)
	defer srv.Close()

	c := billing.NewHTTPClient(srv.URL, "test-api-key", time.Second)
	active, err := c.ActiveSubscription(context.Background(), "sub_1", "", "")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestActiveSubscription_NonCanceledStatusCounts(t *testing.T) {
	// Anything the processor has not terminally canceled still references
	// the key: past_due, trialing, paused all block removal.
	srv := subscriptionServer(t,
		`{"subscriptions":[{"id":"sub_1","price_id":"FIFTYCALLS","status":"past_due"}]}`,
		nil)
	defer srv.Close()

	c := billing.NewHTTPClient(srv.URL, "test-api-key", time.Second)
	active, err := c.ActiveSubscription(context.Background(), "sub_1", "", "")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestActiveSubscription_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := billing.NewHTTPClient(srv.URL, "test-api-key", time.Second)
	_, err := c.ActiveSubscription(context.Background(), "sub_1", "", "")
	assert.Error(t, err)
}
