// Package billingtest provides an in-memory billing.Provider for tests.
package billingtest

import (
	"context"
	"errors"
	"sync"

	"github.com/platinummonkey/voxnote/pkg/billing"
)

// Provider is a scriptable billing.Provider. Unset funcs fail with an error;
// every call is recorded.
type Provider struct {
	CreateCustomerFunc        func(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSessionFunc func(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	CreatePortalSessionFunc   func(ctx context.Context, customerHandle, returnURL string) (string, error)
	CancelAtPeriodEndFunc     func(ctx context.Context, subscriptionHandle string) error
	VerifyFunc                func(payload []byte, signature string) (billing.Event, error)

	mu        sync.Mutex
	cancelled []string
	checkouts []billing.CheckoutRequest
}

var _ billing.Provider = (*Provider)(nil)

// Emitting returns a Provider whose webhook verification accepts signature
// "valid" and yields ev; any other signature is rejected
func Emitting(ev billing.Event) *Provider {
	return &Provider{
		VerifyFunc: func(_ []byte, signature string) (billing.Event, error) {
			if signature != "valid" {
				return nil, billing.ErrInvalidSignature
			}
			return ev, nil
		},
		CancelAtPeriodEndFunc: func(context.Context, string) error { return nil },
	}
}

func (p *Provider) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if p.CreateCustomerFunc != nil {
		return p.CreateCustomerFunc(ctx, email, name)
	}
	return "", errors.New("not implemented")
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	p.mu.Lock()
	p.checkouts = append(p.checkouts, req)
	p.mu.Unlock()
	if p.CreateCheckoutSessionFunc != nil {
		return p.CreateCheckoutSessionFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (p *Provider) CreateBillingPortalSession(ctx context.Context, customerHandle, returnURL string) (string, error) {
	if p.CreatePortalSessionFunc != nil {
		return p.CreatePortalSessionFunc(ctx, customerHandle, returnURL)
	}
	return "", errors.New("not implemented")
}

func (p *Provider) CancelAtPeriodEnd(ctx context.Context, subscriptionHandle string) error {
	p.mu.Lock()
	p.cancelled = append(p.cancelled, subscriptionHandle)
	p.mu.Unlock()
	if p.CancelAtPeriodEndFunc != nil {
		return p.CancelAtPeriodEndFunc(ctx, subscriptionHandle)
	}
	return errors.New("not implemented")
}

func (p *Provider) VerifyAndParseWebhook(payload []byte, signature string) (billing.Event, error) {
	if p.VerifyFunc != nil {
		return p.VerifyFunc(payload, signature)
	}
	return nil, errors.New("not implemented")
}

// Cancelled returns the subscription handles passed to CancelAtPeriodEnd
func (p *Provider) Cancelled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancelled...)
}

// Checkouts returns the checkout requests received
func (p *Provider) Checkouts() []billing.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]billing.CheckoutRequest(nil), p.checkouts...)
}
