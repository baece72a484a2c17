package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/voxnote/pkg/billing"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/observability"
	"github.com/platinummonkey/voxnote/pkg/plans"
)

// Outcome is the disposition of one webhook delivery
type Outcome string

const (
	// Accepted means the event was applied, was a no-op, or was a duplicate
	Accepted Outcome = "accepted"
	// RejectedUnauthenticated means the signature did not verify
	RejectedUnauthenticated Outcome = "rejected_unauthenticated"
	// ReconciliationFailure means the event references data this service
	// does not know. It is logged and acknowledged so the provider stops
	// redelivering it.
	ReconciliationFailure Outcome = "reconciliation_failure"
	// Failed means a transient persistence or provider error. The delivery
	// should be answered with a 5xx so the provider retries.
	Failed Outcome = "failed"
)

var (
	ErrUnknownCustomer     = errors.New("unknown billing customer")
	ErrUnknownPrice        = errors.New("unknown billing price")
	ErrUnknownSubscription = errors.New("unknown billing subscription")
)

// IsDataFault reports whether err is a reconciliation data fault
func IsDataFault(err error) bool {
	return errors.Is(err, ErrUnknownCustomer) ||
		errors.Is(err, ErrUnknownPrice) ||
		errors.Is(err, ErrUnknownSubscription) ||
		errors.Is(err, billing.ErrMalformedEvent)
}

// Ledger is the set of entitlement transitions the reconciler drives
type Ledger interface {
	ApplyPlanChange(ctx context.Context, userID int64, change ledger.PlanChange) error
	RevertToFreePlan(ctx context.Context, userID int64, opts ...ledger.Option) error
	RenewPaidPeriod(ctx context.Context, subscriptionHandle string, periodEnd time.Time, opts ...ledger.Option) error
}

// CustomerDirectory maps billing customer handles to users
type CustomerDirectory interface {
	UserIDByBillingCustomer(ctx context.Context, customerHandle string) (int64, bool, error)
}

// Reconciler applies verified billing events to the ledger. Every event
// re-reads current state, so redelivery and reordering converge.
type Reconciler struct {
	provider  billing.Provider
	ledger    Ledger
	plans     plans.Lookup
	customers CustomerDirectory
	dedup     Deduper
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithDeduper skips redeliveries of already processed event ids
func WithDeduper(d Deduper) Option {
	return func(r *Reconciler) { r.dedup = d }
}

// WithLogger sets the logger for event outcomes
func WithLogger(logger *observability.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithMetrics records webhook outcomes. A nil sink is a no-op.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Reconciler) { r.metrics = metrics }
}

// New creates a Reconciler
func New(provider billing.Provider, l Ledger, lookup plans.Lookup, customers CustomerDirectory, opts ...Option) *Reconciler {
	r := &Reconciler{
		provider:  provider,
		ledger:    l,
		plans:     lookup,
		customers: customers,
		logger:    observability.NewNopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileEvent verifies and applies one webhook delivery. The returned
// error is nil only for Accepted.
func (r *Reconciler) ReconcileEvent(ctx context.Context, payload []byte, signature string) (outcome Outcome, err error) {
	ev, err := r.provider.VerifyAndParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			r.logger.WithError(err).Warn("Rejected webhook with invalid signature")
			r.metrics.RecordWebhookEvent("unverified", string(RejectedUnauthenticated))
			return RejectedUnauthenticated, err
		}
		r.logger.WithError(err).Error("Failed to parse verified webhook")
		r.metrics.RecordWebhookEvent("unparsed", string(ReconciliationFailure))
		return ReconciliationFailure, err
	}

	ctx, span := observability.StartSpan(ctx, "reconcile.ReconcileEvent",
		attribute.String("billing.event.id", ev.EventID()),
		attribute.String("billing.event.type", ev.EventType()),
	)
	defer func() { observability.EndSpan(span, err) }()

	log := r.logger.WithFields(map[string]interface{}{
		"event_id":   ev.EventID(),
		"event_type": ev.EventType(),
	})

	if r.alreadyProcessed(ctx, ev, log) {
		r.metrics.RecordWebhookEvent(ev.EventType(), "duplicate")
		return Accepted, nil
	}

	outcome, err = r.classify(r.dispatch(ctx, ev), log)
	r.metrics.RecordWebhookEvent(ev.EventType(), string(outcome))
	if outcome != Failed {
		r.markProcessed(ctx, ev, log)
	}
	return outcome, err
}

func (r *Reconciler) classify(err error, log *observability.Logger) (Outcome, error) {
	switch {
	case err == nil:
		return Accepted, nil
	case errors.Is(err, ledger.ErrStaleEvent), errors.Is(err, ledger.ErrHandleMismatch):
		log.WithError(err).Info("Ignoring superseded billing event")
		return Accepted, nil
	case IsDataFault(err):
		log.WithError(err).Error("Billing event references unknown data")
		return ReconciliationFailure, err
	default:
		log.WithError(err).Error("Failed to apply billing event")
		return Failed, err
	}
}

func (r *Reconciler) dispatch(ctx context.Context, ev billing.Event) error {
	switch e := ev.(type) {
	case billing.SubscriptionActivated:
		return r.onSubscriptionActivatedOrUpdated(ctx, e)
	case billing.SubscriptionLapsed:
		return r.onSubscriptionCanceledOrPastDue(ctx, e)
	case billing.InvoicePaid:
		return r.onInvoicePaid(ctx, e)
	case billing.CheckoutCompleted:
		return r.onCheckoutCompleted(ctx, e)
	case billing.Unhandled:
		r.logger.WithField("event_type", e.Type).Debug("Unhandled billing event")
		return nil
	default:
		return fmt.Errorf("unsupported billing event %T", ev)
	}
}

func (r *Reconciler) onSubscriptionActivatedOrUpdated(ctx context.Context, e billing.SubscriptionActivated) error {
	// The plan stays in force until the deletion event arrives
	if e.PendingCancellation() {
		r.logger.WithField("subscription", e.SubscriptionHandle).Info("Subscription pending cancellation, keeping plan")
		return nil
	}

	userID, err := r.resolveUser(ctx, e.CustomerHandle)
	if err != nil {
		return err
	}

	plan, err := r.plans.ByPriceHandle(ctx, e.PriceHandle)
	if errors.Is(err, plans.ErrPlanNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownPrice, e.PriceHandle)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve plan: %w", err)
	}

	renewal := e.PeriodEnd
	if renewal.IsZero() {
		renewal = r.now().AddDate(0, 1, 0)
	}
	handle := e.SubscriptionHandle
	return r.ledger.ApplyPlanChange(ctx, userID, ledger.PlanChange{
		Plan:          plan,
		BillingHandle: &handle,
		RenewalDate:   renewal,
		EventAt:       e.CreatedAt,
	})
}

func (r *Reconciler) onSubscriptionCanceledOrPastDue(ctx context.Context, e billing.SubscriptionLapsed) error {
	userID, err := r.resolveUser(ctx, e.CustomerHandle)
	if err != nil {
		return err
	}
	return r.ledger.RevertToFreePlan(ctx, userID,
		ledger.AsOf(e.CreatedAt),
		ledger.IfHandle(e.SubscriptionHandle),
	)
}

// onInvoicePaid renews the paid period. Only regular cycle invoices count;
// the first invoice of a subscription is covered by its activation event.
// The ledger orders renewals by period end, so a redelivered or late invoice
// comes back as ErrStaleEvent.
func (r *Reconciler) onInvoicePaid(ctx context.Context, e billing.InvoicePaid) error {
	if !e.IsRenewal() {
		return nil
	}
	if e.SubscriptionHandle == "" {
		return fmt.Errorf("%w: invoice %s has no subscription", ErrUnknownSubscription, e.ID)
	}
	if e.PeriodEnd.IsZero() {
		return fmt.Errorf("%w: invoice %s has no period end", billing.ErrMalformedEvent, e.ID)
	}

	err := r.ledger.RenewPaidPeriod(ctx, e.SubscriptionHandle, e.PeriodEnd)
	if errors.Is(err, ledger.ErrSubscriptionNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, e.SubscriptionHandle)
	}
	return err
}

// onCheckoutCompleted retires the subscription a replacement checkout
// superseded. Its deletion event later fails the handle guard and leaves the
// new plan alone.
func (r *Reconciler) onCheckoutCompleted(ctx context.Context, e billing.CheckoutCompleted) error {
	prev := e.PreviousSubscriptionHandle
	if prev == "" || prev == e.SubscriptionHandle {
		return nil
	}
	if err := r.provider.CancelAtPeriodEnd(ctx, prev); err != nil {
		return fmt.Errorf("failed to cancel replaced subscription: %w", err)
	}
	r.logger.WithFields(map[string]interface{}{
		"old_subscription": prev,
		"new_subscription": e.SubscriptionHandle,
	}).Info("Replaced subscription set to cancel at period end")
	return nil
}

func (r *Reconciler) resolveUser(ctx context.Context, customerHandle string) (int64, error) {
	userID, ok, err := r.customers.UserIDByBillingCustomer(ctx, customerHandle)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve customer: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCustomer, customerHandle)
	}
	return userID, nil
}

func (r *Reconciler) alreadyProcessed(ctx context.Context, ev billing.Event, log *observability.Logger) bool {
	if r.dedup == nil || ev.EventID() == "" {
		return false
	}
	seen, err := r.dedup.Seen(ctx, ev.EventID())
	if err != nil {
		log.WithError(err).Warn("Webhook dedup lookup failed")
		return false
	}
	if seen {
		log.Debug("Skipping redelivered billing event")
	}
	return seen
}

func (r *Reconciler) markProcessed(ctx context.Context, ev billing.Event, log *observability.Logger) {
	if r.dedup == nil || ev.EventID() == "" {
		return
	}
	if err := r.dedup.Record(ctx, ev.EventID()); err != nil {
		log.WithError(err).Warn("Failed to record processed billing event")
	}
}
