package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantleap/stockcast/internal/keystore"
	"github.com/quantleap/stockcast/internal/models"
)

// Sentinel errors surfaced to the webhook and key-removal boundaries.
var (
	// ErrAmountMismatch means the paid amount does not match the plan's
	// configured price. No grant happens; classic tampered-identifier case.
	ErrAmountMismatch = errors.New("billing: paid amount does not match price")
	// ErrFreeKeyProtected: free keys are never removable. Policy.
	ErrFreeKeyProtected = errors.New("billing: free keys cannot be removed")
	// ErrRemovalBlocked: an active (or unverifiable) external subscription
	// references the key. The caller must cancel it processor-side first.
	ErrRemovalBlocked = errors.New("billing: cancel the external subscription before removing this key")
	// ErrUnknownPrincipal: the event could not be correlated to an account.
	ErrUnknownPrincipal = errors.New("billing: event does not match any principal")
)

// Reconciler applies verified billing events to entitlement state.
//
// Events are delivered at least once. Correctness comes from checking
// current entitlement state immediately before mutating (grant only if no
// paid key exists), never from deduplicating on event ids, which the
// processor does not durably guarantee.
type Reconciler struct {
	store   keystore.Store
	catalog *Catalog
	client  Client
	timeout time.Duration
}

func NewReconciler(store keystore.Store, catalog *Catalog, client Client, timeout time.Duration) *Reconciler {
	return &Reconciler{store: store, catalog: catalog, client: client, timeout: timeout}
}

// HandleEvent processes one verified event. A replayed event grants at most
// one paid key per principal but still appends its audit row.
func (r *Reconciler) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventPaymentSucceeded, EventSubscriptionCompleted:
	default:
		log.Info().Str("type", string(ev.Type)).Msg("Ignoring unhandled billing event type")
		return nil
	}

	plan, err := r.catalog.Resolve(ev.PriceID)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.PaymentID, err)
	}

	// One-off payments carry the charged amount; it must equal the plan's
	// configured price or the event is rejected outright.
	if ev.Type == EventPaymentSucceeded && ev.AmountCents != plan.AmountCents {
		log.Warn().
			Str("price_id", ev.PriceID).
			Int64("expected_cents", plan.AmountCents).
			Int64("paid_cents", ev.AmountCents).
			Msg("Rejecting billing event: amount mismatch")
		return ErrAmountMismatch
	}

	principal, err := r.resolvePrincipal(ctx, ev)
	if err != nil {
		return err
	}

	var subscriptionID *string
	if ev.SubscriptionID != "" {
		subscriptionID = &ev.SubscriptionID
	}

	granted, err := r.grantIfAbsent(ctx, principal.ID, plan, subscriptionID)
	if err != nil {
		// Safe-by-skip: log and leave entitlement state unchanged rather
		// than granting speculatively. The processor will redeliver.
		return fmt.Errorf("grant for %s: %w", principal.ID, err)
	}

	audit := models.PaymentAudit{
		PrincipalID:       principal.ID,
		PriceID:           ev.PriceID,
		AmountCents:       ev.AmountCents,
		ExternalPaymentID: ev.PaymentID,
	}
	if err := r.store.AppendAudit(ctx, audit); err != nil {
		return fmt.Errorf("audit for %s: %w", principal.ID, err)
	}

	log.Info().
		Str("principal_id", principal.ID).
		Str("price_id", ev.PriceID).
		Bool("granted", granted).
		Msg("Billing event reconciled")
	return nil
}

func (r *Reconciler) resolvePrincipal(ctx context.Context, ev Event) (*models.Principal, error) {
	if ev.PrincipalID != "" {
		p, err := r.store.FindPrincipalByID(ctx, ev.PrincipalID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, keystore.ErrNotFound) {
			return nil, err
		}
	}

	// Fall back to the billing-system customer email.
	if ev.CustomerEmail != "" {
		p, err := r.store.FindPrincipalByEmail(ctx, ev.CustomerEmail)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, keystore.ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrUnknownPrincipal
}

// grantIfAbsent creates a paid key unless the principal already holds one.
// Idempotent by state: the existence check and the keystore's own
// grant-time enforcement together make replays a no-op.
func (r *Reconciler) grantIfAbsent(ctx context.Context, principalID string, plan Plan, subscriptionID *string) (bool, error) {
	has, err := r.store.HasPaidKey(ctx, principalID)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}

	priceID := plan.PriceID
	_, err = r.store.AddKey(ctx, principalID, keystore.KeySpec{
		Tier:           models.TierPaid,
		MinuteLimit:    plan.PerMinute,
		DayLimit:       plan.PerDay,
		PriceID:        &priceID,
		SubscriptionID: subscriptionID,
		Name:           plan.PriceID,
	})
	if errors.Is(err, keystore.ErrPaidKeyExists) {
		// Lost a race with a concurrent redelivery. Same outcome.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GuardRemoval decides whether a key may be deleted.
//
// Free keys: never. Paid keys: only if the external processor confirms no
// non-canceled subscription references them. Ambiguity (a query timeout or any
// error) fails closed and blocks the removal.
func (r *Reconciler) GuardRemoval(ctx context.Context, owner *models.Principal, key *models.ApiKey) error {
	if key.Tier != models.TierPaid {
		return ErrFreeKeyProtected
	}

	subscriptionID := ""
	if key.SubscriptionID != nil {
		subscriptionID = *key.SubscriptionID
	}
	priceID := ""
	if key.PriceID != nil {
		priceID = *key.PriceID
	}

	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	active, err := r.client.ActiveSubscription(qctx, subscriptionID, owner.Email, priceID)
	if err != nil {
		log.Warn().Err(err).Str("key_id", key.ID).Msg("Subscription check failed, refusing key removal")
		return fmt.Errorf("%w: %v", ErrRemovalBlocked, err)
	}
	if active {
		return ErrRemovalBlocked
	}
	return nil
}
