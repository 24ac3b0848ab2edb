// Package billing reconciles internal entitlement state with the external
// payment processor's event stream, and owns the canonical price table.
package billing

import (
	"errors"

	"github.com/quantleap/stockcast/internal/models"
)

// ErrUnknownPrice means a price identifier has no entry in the catalog.
// This is a hard configuration error everywhere it surfaces; unresolvable
// identifiers are never defaulted to a tier.
var ErrUnknownPrice = errors.New("billing: unknown price identifier")

// Plan is one purchasable tier: the quota it buys and the amount the
// processor must have charged for it.
type Plan struct {
	PriceID     string
	Tier        models.Tier
	PerMinute   int
	PerDay      int
	AmountCents int64
}

// Catalog maps price identifiers to plans. It is the one source of truth
// for tier resolution, shared by the reconciler (grants) and the access
// gate (request-time limit lookup).
type Catalog struct {
	plans map[string]Plan
}

func NewCatalog(plans ...Plan) *Catalog {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.PriceID] = p
	}
	return c
}

// DefaultCatalog is the production price table. Day limits sit deliberately
// below the minute-rate ceiling; the two budgets are independent knobs.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Plan{PriceID: "FIFTYCALLS", Tier: models.TierPaid, PerMinute: 50, PerDay: 10000, AmountCents: 900},
		Plan{PriceID: "TWOHUNDREDCALLS", Tier: models.TierPaid, PerMinute: 200, PerDay: 100000, AmountCents: 2900},
		Plan{PriceID: "THOUSANDCALLS", Tier: models.TierPaid, PerMinute: 1000, PerDay: 500000, AmountCents: 9900},
	)
}

// Resolve returns the plan for a price identifier, or ErrUnknownPrice.
func (c *Catalog) Resolve(priceID string) (Plan, error) {
	p, ok := c.plans[priceID]
	if !ok {
		return Plan{}, ErrUnknownPrice
	}
	return p, nil
}
