package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Client queries the external billing processor. Every call carries a
// bounded timeout; callers decide whether an error fails closed (removal
// guard) or safe-by-skip (grants).
type Client interface {
	// ActiveSubscription reports whether any non-canceled subscription
	// matching the given subscription id (or, when that is empty, the
	// customer email + price id) exists on the processor side.
	ActiveSubscription(ctx context.Context, subscriptionID, customerEmail, priceID string) (bool, error)
}

// HTTPClient talks to the processor's REST API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	// The processor rate-limits aggressively; space our own calls out
	// rather than eating 429s.
	limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a processor client. timeout bounds every request.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

type subscriptionList struct {
	Subscriptions []struct {
		ID      string `json:"id"`
		PriceID string `json:"price_id"`
		Status  string `json:"status"`
	} `json:"subscriptions"`
}

func (c *HTTPClient) ActiveSubscription(ctx context.Context, subscriptionID, customerEmail, priceID string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("billing: limiter: %w", err)
	}

	q := url.Values{"status": {"active"}}
	if subscriptionID != "" {
		q.Set("id", subscriptionID)
	} else {
		q.Set("customer_email", customerEmail)
		q.Set("price_id", priceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/subscriptions?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("billing: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("billing: subscription query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("billing: subscription query returned %d", resp.StatusCode)
	}

	var list subscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false, fmt.Errorf("billing: decode subscriptions: %w", err)
	}

	for _, sub := range list.Subscriptions {
		if sub.Status != "canceled" {
			return true, nil
		}
	}
	return false, nil
}
