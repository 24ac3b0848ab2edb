package billing

// EventType discriminates incoming processor events.
type EventType string

const (
	// EventPaymentSucceeded is a one-off payment for a plan.
	EventPaymentSucceeded EventType = "payment.succeeded"
	// EventSubscriptionCompleted is a completed subscription checkout.
	EventSubscriptionCompleted EventType = "subscription.completed"
)

// Event is a billing processor webhook event, already signature-verified at
// the boundary. Delivery is at least once; nothing here may assume an event
// id arrives only once.
type Event struct {
	Type           EventType `json:"type"`
	PaymentID      string    `json:"payment_id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	AmountCents    int64     `json:"amount_cents"`
	PriceID        string    `json:"price_id"`

	// PrincipalID is the internal account reference the checkout was tagged
	// with. When absent the principal is resolved by CustomerEmail.
	PrincipalID   string `json:"principal_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
}
