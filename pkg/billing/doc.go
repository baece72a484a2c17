// Package billing is the boundary to the payment provider.
//
// # Overview
//
// Provider covers the four outbound calls the service makes (create a
// customer, open a checkout, open the billing portal, cancel a subscription
// at period end) and the inbound webhook path. StripeProvider implements it
// on stripe-go.
//
// # Events
//
// VerifyAndParseWebhook checks the signature against the raw body and maps
// the payload into a closed set of event types:
//
//   - SubscriptionActivated: subscription created or updated while active
//     or trialing
//   - SubscriptionLapsed: subscription deleted, or updated into past_due,
//     unpaid, canceled or incomplete_expired
//   - InvoicePaid: invoice.paid. invoice.payment_succeeded repeats the same
//     invoice and stays Unhandled.
//   - CheckoutCompleted: checkout.session.completed
//   - Unhandled: everything else
//
// A type switch over Event is exhaustive over these five. Signature
// failures wrap ErrInvalidSignature; outbound API failures wrap
// ErrProviderFailure.
//
// # Usage Example
//
//	provider := billing.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
//	ev, err := provider.VerifyAndParseWebhook(body, r.Header.Get("Stripe-Signature"))
//	if errors.Is(err, billing.ErrInvalidSignature) {
//		// reject with 400
//	}
//	switch e := ev.(type) {
//	case billing.SubscriptionActivated:
//		...
//	}
//
// # Related Packages
//
//   - pkg/reconcile: applies events to the subscription ledger
package billing
