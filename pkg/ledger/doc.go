// Package ledger owns per-user entitlement state: the subscription row that
// records a user's plan, remaining uploads, remaining recording seconds,
// renewal date and billing subscription handle.
//
// # Writers
//
// Three writers contend on the same row: the usage gate (TryConsume), the
// webhook reconciler (ApplyPlanChange, RevertToFreePlan, RenewPaidPeriod) and
// the renewal sweeper (ResetFreeQuota). Each mutation runs in its own
// transaction and takes the row lock with SELECT ... FOR UPDATE before
// reading counters, so mutations on one user are serialized while different
// users never block each other.
//
// # Invariants
//
//   - uploads_left and recording_time_left never go below zero. TryConsume
//     rejects with *QuotaExceededError before writing, and a CHECK
//     constraint backs the rule in the schema.
//   - ApplyPlanChange resets counters only when the plan or the billing
//     handle changes. Reapplying an identical change only refreshes the
//     renewal date.
//   - RenewPaidPeriod grants each paid period once. A period end at or
//     before paid_through returns ErrStaleEvent.
//   - Provider-driven transitions carry the provider event time. An event
//     older than the newest one already applied returns ErrStaleEvent.
//   - ResetFreeQuota advances the renewal date from its previous value, not
//     from the current time, keeping a stable cadence when the sweeper runs
//     late.
//
// # Example
//
//	l := ledger.New(db, catalog, ledger.WithLogger(logger))
//	if err := l.TryConsume(ctx, userID, ledger.Upload()); err != nil {
//		if qe, ok := ledger.AsQuotaExceeded(err); ok {
//			return qe.Message() // "No uploads left"
//		}
//		return err
//	}
package ledger
