package billing

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

// Stripe event types the reconciler understands. invoice.payment_succeeded
// fires alongside invoice.paid for the same invoice and is left unhandled.
const (
	EventSubscriptionCreated = string(stripe.EventTypeCustomerSubscriptionCreated)
	EventSubscriptionUpdated = string(stripe.EventTypeCustomerSubscriptionUpdated)
	EventSubscriptionDeleted = string(stripe.EventTypeCustomerSubscriptionDeleted)
	EventInvoicePaid         = string(stripe.EventTypeInvoicePaid)
	EventCheckoutCompleted   = string(stripe.EventTypeCheckoutSessionCompleted)
)

func parseEvent(meta EventMeta, raw json.RawMessage) (Event, error) {
	switch meta.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		return subscriptionEvent(meta, &sub)

	case EventInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		return InvoicePaid{
			EventMeta:          meta,
			SubscriptionHandle: invoiceSubscription(&inv),
			BillingReason:      string(inv.BillingReason),
			PeriodEnd:          unixTime(invoicePeriodEnd(&inv)),
		}, nil

	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		ev := CheckoutCompleted{
			EventMeta:          meta,
			CustomerHandle:     customerID(s.Customer),
			SubscriptionHandle: subscriptionID(s.Subscription),
		}
		if s.Metadata[MetadataAction] == ActionUpdate {
			ev.PreviousSubscriptionHandle = s.Metadata[MetadataOldSubscription]
		}
		return ev, nil
	}
	return Unhandled{EventMeta: meta}, nil
}

func subscriptionEvent(meta EventMeta, sub *stripe.Subscription) (Event, error) {
	customer := customerID(sub.Customer)
	if sub.ID == "" || customer == "" {
		return nil, fmt.Errorf("%w: subscription event %s lacks id or customer", ErrMalformedEvent, meta.ID)
	}

	lapsed := SubscriptionLapsed{
		EventMeta:          meta,
		CustomerHandle:     customer,
		SubscriptionHandle: sub.ID,
		Status:             string(sub.Status),
	}
	if meta.Type == EventSubscriptionDeleted {
		return lapsed, nil
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		item := firstItem(sub)
		if item == nil || item.Price == nil || item.Price.ID == "" {
			return nil, fmt.Errorf("%w: subscription %s has no priced item", ErrMalformedEvent, sub.ID)
		}
		return SubscriptionActivated{
			EventMeta:          meta,
			CustomerHandle:     customer,
			PriceHandle:        item.Price.ID,
			SubscriptionHandle: sub.ID,
			PeriodEnd:          unixTime(item.CurrentPeriodEnd),
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			Canceled:           sub.CanceledAt > 0,
		}, nil
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return lapsed, nil
	}
	return Unhandled{EventMeta: meta}, nil
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func invoiceSubscription(inv *stripe.Invoice) string {
	if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil {
		return ""
	}
	return subscriptionID(inv.Parent.SubscriptionDetails.Subscription)
}

// invoicePeriodEnd is the end of the period the invoice pays for. The
// invoice's own period_end covers the previous period on renewals, so the
// line item period wins when present.
func invoicePeriodEnd(inv *stripe.Invoice) int64 {
	if inv.Lines != nil && len(inv.Lines.Data) > 0 {
		if line := inv.Lines.Data[0]; line.Period != nil && line.Period.End > 0 {
			return line.Period.End
		}
	}
	return inv.PeriodEnd
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func subscriptionID(s *stripe.Subscription) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
