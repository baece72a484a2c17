package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidSignature means a webhook payload failed signature
	// verification and must not be acted on
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrProviderFailure wraps failed calls to the billing provider API
	ErrProviderFailure = errors.New("billing provider request failed")
	// ErrMalformedEvent means a verified payload could not be decoded
	ErrMalformedEvent = errors.New("malformed billing event")
)

// Provider is the billing provider boundary. Handles are opaque provider
// identifiers (customer, price and subscription ids).
type Provider interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerHandle, returnURL string) (string, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionHandle string) error
	VerifyAndParseWebhook(payload []byte, signature string) (Event, error)
}

// CheckoutRequest describes a hosted subscription checkout
type CheckoutRequest struct {
	CustomerHandle string
	PriceHandle    string
	SuccessURL     string
	CancelURL      string
	// PreviousSubscriptionHandle is set when the checkout replaces an
	// active subscription. The old one is cancelled at period end once the
	// checkout completes.
	PreviousSubscriptionHandle string
}

// CheckoutSession is a created checkout the client is redirected to
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Metadata keys attached to replacement checkouts
const (
	MetadataOldSubscription = "old_subscription"
	MetadataAction          = "action"
	ActionUpdate            = "update"
)

// BillingReasonSubscriptionCycle marks an invoice raised by a regular
// renewal rather than the first payment or a proration
const BillingReasonSubscriptionCycle = "subscription_cycle"

// Event is a verified billing lifecycle event. The set of implementations
// is closed: SubscriptionActivated, SubscriptionLapsed, InvoicePaid,
// CheckoutCompleted and Unhandled.
type Event interface {
	EventID() string
	EventType() string
	OccurredAt() time.Time
	isEvent()
}

// EventMeta carries the envelope fields shared by all events
type EventMeta struct {
	ID        string
	Type      string
	CreatedAt time.Time
}

func (m EventMeta) EventID() string       { return m.ID }
func (m EventMeta) EventType() string     { return m.Type }
func (m EventMeta) OccurredAt() time.Time { return m.CreatedAt }

// SubscriptionActivated is a subscription that is active or trialing
type SubscriptionActivated struct {
	EventMeta
	CustomerHandle     string
	PriceHandle        string
	SubscriptionHandle string
	PeriodEnd          time.Time
	CancelAtPeriodEnd  bool
	Canceled           bool
}

// PendingCancellation reports whether the subscription is already marked
// cancelled and only runs out its current period
func (e SubscriptionActivated) PendingCancellation() bool {
	return e.CancelAtPeriodEnd && e.Canceled
}

// SubscriptionLapsed is a subscription that was deleted or stopped paying
type SubscriptionLapsed struct {
	EventMeta
	CustomerHandle     string
	SubscriptionHandle string
	Status             string
}

// InvoicePaid is a successfully paid subscription invoice
type InvoicePaid struct {
	EventMeta
	SubscriptionHandle string
	BillingReason      string
	PeriodEnd          time.Time
}

// IsRenewal reports whether the invoice pays for a regular renewal
func (e InvoicePaid) IsRenewal() bool {
	return e.BillingReason == BillingReasonSubscriptionCycle
}

// CheckoutCompleted is a finished hosted checkout
type CheckoutCompleted struct {
	EventMeta
	CustomerHandle             string
	SubscriptionHandle         string
	PreviousSubscriptionHandle string
}

// Unhandled is any event type the reconciler does not act on
type Unhandled struct {
	EventMeta
}

func (SubscriptionActivated) isEvent() {}
func (SubscriptionLapsed) isEvent()    {}
func (InvoicePaid) isEvent()           {}
func (CheckoutCompleted) isEvent()     {}
func (Unhandled) isEvent()             {}
