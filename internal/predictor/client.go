package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantleap/stockcast/internal/models"
)

// HTTPClient calls the prediction service over HTTP.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string

	// The model service is a single slow process; keep our own call rate
	// civilized instead of piling up requests on it.
	limiter *rate.Limiter
}

var _ Predictor = (*HTTPClient)(nil)

// NewHTTPClient creates a predictor client. timeout bounds every request;
// no call blocks indefinitely.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Every(50*time.Millisecond), 20),
	}
}

type predictionResponse struct {
	models.Forecast
	Error string `json:"error,omitempty"`
}

func (c *HTTPClient) Predict(ctx context.Context, symbol string) (*models.Forecast, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("predictor: limiter: %w", err)
	}

	endpoint := c.baseURL + "/predict?" + url.Values{"symbol": {symbol}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("predictor: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusBadRequest:
		return nil, ErrInvalidSymbol
	case http.StatusServiceUnavailable:
		return nil, ErrModelUnavailable
	default:
		return nil, fmt.Errorf("%w: status %d", ErrModelUnavailable, resp.StatusCode)
	}

	var pr predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrModelUnavailable, err)
	}
	if pr.Error != "" {
		// The service reports unknown tickers as an error body with 200.
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, pr.Error)
	}

	forecast := pr.Forecast
	return &forecast, nil
}
