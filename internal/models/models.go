package models

import (
	"time"
)

// Tier names the service level an API key runs at.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Principal is a signed-up account. Identity is immutable after signup.
type Principal struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// ApiKey is one metered credential owned by a principal.
//
// The raw secret is carried only transiently (at creation, rotation and the
// one-time reveal); persisted state holds its digest and an encrypted copy.
type ApiKey struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Secret         string     `json:"-"`
	SecretDigest   string     `json:"-"`
	Tier           Tier       `json:"tier"`
	MinuteLimit    int        `json:"minute_limit"`
	DayLimit       int        `json:"day_limit"`
	PriceID        *string    `json:"price_id,omitempty"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
	Name           string     `json:"name"`
	Revealed       bool       `json:"revealed"`
	UsageCount     int64      `json:"usage_count"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// MaskedSecret returns the presentation form for key listings: prefix plus
// the last four characters of the secret digest stand-in. Listings never
// carry the raw secret.
func (k *ApiKey) MaskedSecret() string {
	if len(k.SecretDigest) < 4 {
		return "sc_****"
	}
	return "sc_****" + k.SecretDigest[len(k.SecretDigest)-4:]
}

// PaymentAudit is an append-only record of a processed billing event.
// One row is written per event regardless of whether a key was granted.
type PaymentAudit struct {
	ID                string    `json:"id"`
	PrincipalID       string    `json:"principal_id"`
	PriceID           string    `json:"price_id"`
	AmountCents       int64     `json:"amount_cents"`
	ExternalPaymentID string    `json:"external_payment_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Forecast is the predictor's answer for one symbol. Field names follow the
// prediction service's JSON output.
type Forecast struct {
	Ticker          string  `json:"ticker"`
	PredictedReturn float64 `json:"predicted_return_6m"`
	Confidence      string  `json:"confidence"`
}
