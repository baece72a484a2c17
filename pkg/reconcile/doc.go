// Package reconcile turns billing provider webhooks into ledger transitions.
//
// ReconcileEvent verifies the signature, decodes the event and dispatches it
// to one handler per event kind:
//
//   - SubscriptionActivated: ApplyPlanChange to the plan behind the price,
//     unless the subscription is already cancelled and only running out
//   - SubscriptionLapsed: RevertToFreePlan, guarded so the lapse of a
//     replaced subscription never touches the newer one
//   - InvoicePaid: RenewPaidPeriod for subscription_cycle invoices
//   - CheckoutCompleted: cancel the replaced subscription at period end
//
// Stale or superseded events are accepted as no-ops. Events naming an
// unknown customer, price or subscription are logged and acknowledged with
// ReconciliationFailure. Anything else returns Failed so the provider
// redelivers.
package reconcile
