package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeAPI is the subset of the Stripe client the provider calls
type stripeAPI interface {
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type stripeClient struct {
	api *client.API
}

func (c *stripeClient) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return c.api.Customers.New(params)
}

func (c *stripeClient) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

func (c *stripeClient) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return c.api.BillingPortalSessions.New(params)
}

func (c *stripeClient) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return c.api.Subscriptions.Update(id, params)
}

// StripeProvider implements Provider on the Stripe API
type StripeProvider struct {
	api           stripeAPI
	webhookSecret string
	tolerance     time.Duration
}

// NewStripeProvider creates a StripeProvider with its own API client so the
// global stripe.Key is never touched
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		api:           &stripeClient{api: client.New(secretKey, nil)},
		webhookSecret: webhookSecret,
		tolerance:     webhook.DefaultTolerance,
	}
}

// CreateCustomer creates a Stripe customer and returns its id
func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx

	c, err := p.api.NewCustomer(params)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create customer: %w", ErrProviderFailure, err)
	}
	return c.ID, nil
}

// CreateCheckoutSession creates a hosted subscription checkout with one
// line item. A replacement checkout records the superseded subscription in
// both the session and the subscription metadata.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Customer:           stripe.String(req.CustomerHandle),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceHandle), Quantity: stripe.Int64(1)},
		},
		SuccessURL:          stripe.String(req.SuccessURL),
		CancelURL:           stripe.String(req.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx

	if req.PreviousSubscriptionHandle != "" {
		params.AddMetadata(MetadataOldSubscription, req.PreviousSubscriptionHandle)
		params.AddMetadata(MetadataAction, ActionUpdate)
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataOldSubscription: req.PreviousSubscriptionHandle,
				MetadataAction:          ActionUpdate,
			},
		}
	}

	s, err := p.api.NewCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create checkout session: %w", ErrProviderFailure, err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CreateBillingPortalSession returns the URL of a self-service portal
func (p *StripeProvider) CreateBillingPortalSession(ctx context.Context, customerHandle, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerHandle),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := p.api.NewPortalSession(params)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create billing portal session: %w", ErrProviderFailure, err)
	}
	return s.URL, nil
}

// CancelAtPeriodEnd schedules a subscription to end with its current period
func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionHandle string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	if _, err := p.api.UpdateSubscription(subscriptionHandle, params); err != nil {
		return fmt.Errorf("%w: failed to cancel subscription %s at period end: %w", ErrProviderFailure, subscriptionHandle, err)
	}
	return nil
}

// VerifyAndParseWebhook checks the Stripe-Signature header against the raw
// payload and decodes the event into the closed Event union
func (p *StripeProvider) VerifyAndParseWebhook(payload []byte, signature string) (Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, event.ID)
	}

	meta := EventMeta{
		ID:        event.ID,
		Type:      string(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}
	parsed, err := parseEvent(meta, event.Data.Raw)
	if err != nil {
		if errors.Is(err, ErrMalformedEvent) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return parsed, nil
}
