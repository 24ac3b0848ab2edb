// Package predictor is the boundary to the external forecast model service.
// The model itself (training, features, file format) lives outside this
// repo; this package only speaks its request/response contract.
package predictor

import (
	"context"
	"errors"

	"github.com/quantleap/stockcast/internal/models"
)

// Typed failures. The access gate maps these to user-facing statuses.
var (
	ErrInvalidSymbol    = errors.New("predictor: unknown or invalid symbol")
	ErrModelUnavailable = errors.New("predictor: model unavailable")
	ErrTimeout          = errors.New("predictor: request timed out")
)

// Predictor produces a forecast for one symbol or a typed failure.
type Predictor interface {
	Predict(ctx context.Context, symbol string) (*models.Forecast, error)
}
