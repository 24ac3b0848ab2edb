// Package keystore is the durable registry of principals and their API keys.
//
// Two interchangeable implementations exist: Postgres (production) and
// Memory (development / tests). The backend is picked once at startup from
// configuration; callers only ever see the Store interface.
package keystore

import (
	"context"
	"errors"

	"github.com/quantleap/stockcast/internal/models"
)

// Sentinel errors.
var (
	ErrNotFound        = errors.New("keystore: not found")
	ErrEmailExists     = errors.New("keystore: email already registered")
	ErrPaidKeyExists   = errors.New("keystore: principal already holds a paid key")
	ErrAlreadyRevealed = errors.New("keystore: secret already revealed")
)

// KeySpec describes a key to be issued.
type KeySpec struct {
	Tier           models.Tier
	MinuteLimit    int
	DayLimit       int
	PriceID        *string
	SubscriptionID *string
	Name           string
}

// Store is the registry of principals and API keys. All mutations persist
// before returning; persistence failures propagate wrapped, never swallowed.
type Store interface {
	// CreatePrincipal registers a new account. Returns ErrEmailExists if the
	// email is already taken.
	CreatePrincipal(ctx context.Context, email, credentialHash string) (*models.Principal, error)

	FindPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error)
	FindPrincipalByID(ctx context.Context, id string) (*models.Principal, error)

	// AddKey issues a key for the owner. The returned key carries the raw
	// secret; it is the only time the store hands it out unprompted.
	// For paid keys the at-most-one-per-principal rule is enforced here,
	// at grant time: a second paid grant returns ErrPaidKeyExists.
	AddKey(ctx context.Context, ownerID string, spec KeySpec) (*models.ApiKey, error)

	ListKeys(ctx context.Context, ownerID string) ([]models.ApiKey, error)
	GetKey(ctx context.Context, keyID string) (*models.ApiKey, error)
	HasPaidKey(ctx context.Context, ownerID string) (bool, error)

	Rename(ctx context.Context, keyID, name string) error

	// Rotate atomically replaces the key's secret. The old secret is invalid
	// for every lookup after Rotate returns. Rotation resets the revealed
	// flag: the new secret has not been shown yet.
	Rotate(ctx context.Context, keyID string) (string, error)

	// Remove deletes a key. Callers must pass the removal guard
	// (billing.Reconciler.GuardRemoval) first.
	Remove(ctx context.Context, keyID string) error

	// FindBySecret is the reverse lookup run on every authenticated request.
	FindBySecret(ctx context.Context, secret string) (*models.Principal, *models.ApiKey, error)

	// RevealSecret returns the raw secret exactly once per secret value.
	// Subsequent calls return ErrAlreadyRevealed until the key is rotated.
	RevealSecret(ctx context.Context, keyID string) (string, error)

	// RecordUsage bumps usage_count/last_used_at. Best effort: callers log
	// and discard failures, an admitted request is never failed by this.
	RecordUsage(ctx context.Context, keyID string) error

	// AppendAudit writes one payment audit row. Append-only.
	AppendAudit(ctx context.Context, audit models.PaymentAudit) error
	ListAudits(ctx context.Context, principalID string) ([]models.PaymentAudit, error)
}
