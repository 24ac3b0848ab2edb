package predictor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/stockcast/internal/predictor"
)

func TestPredict_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ticker":"AAPL","predicted_return_6m":0.0812,"confidence":"high"}`))
	}))
	defer srv.Close()

	c := predictor.NewHTTPClient(srv.URL, 5*time.Second)
	forecast, err := c.Predict(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", forecast.Ticker)
	assert.InDelta(t, 0.0812, forecast.PredictedReturn, 1e-9)
	assert.Equal(t, "high", forecast.Confidence)
}

func TestPredict_ErrorBodyWith200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"No data found for ticker NOPE"}`))
	}))
	defer srv.Close()

	c := predictor.NewHTTPClient(srv.URL, 5*time.Second)
	_, err := c.Predict(context.Background(), "NOPE")
	assert.ErrorIs(t, err, predictor.ErrInvalidSymbol)
}

func TestPredict_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, predictor.ErrInvalidSymbol},
		{"bad request", http.StatusBadRequest, predictor.ErrInvalidSymbol},
		{"unavailable", http.StatusServiceUnavailable, predictor.ErrModelUnavailable},
		{"server error", http.StatusInternalServerError, predictor.ErrModelUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := predictor.NewHTTPClient(srv.URL, 5*time.Second)
			_, err := c.Predict(context.Background(), "AAPL")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPredict_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := predictor.NewHTTPClient(srv.URL, 50*time.Millisecond)
	_, err := c.Predict(context.Background(), "AAPL")
	assert.ErrorIs(t, err, predictor.ErrTimeout)
}

func TestPredict_ServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := predictor.NewHTTPClient(srv.URL, time.Second)
	_, err := c.Predict(context.Background(), "AAPL")
	assert.ErrorIs(t, err, predictor.ErrModelUnavailable)
}
