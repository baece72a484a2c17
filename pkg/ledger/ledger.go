package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/voxnote/pkg/observability"
	"github.com/platinummonkey/voxnote/pkg/plans"
	"github.com/platinummonkey/voxnote/pkg/storage/postgres"
)

const selectSubscription = `
	SELECT s.user_id, s.plan_id, s.renewal_date, s.uploads_left, s.recording_time_left,
	       s.billing_subscription_handle, s.billing_event_at, s.paid_through, s.updated_at,
	       p.plan_type, p.price_cents, p.max_uploads, p.max_recording_time, p.price_handle
	FROM subscriptions s
	JOIN plans p ON p.id = s.plan_id
`

// Ledger owns per-user entitlement state. Every mutation locks the user's
// subscription row with SELECT ... FOR UPDATE for the length of one short
// transaction; no lock is ever held across a provider call.
type Ledger struct {
	db           *sql.DB
	plans        plans.Lookup
	periodMonths int
	now          func() time.Time
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

// WithPeriod sets the free-tier renewal period in calendar months
func WithPeriod(months int) LedgerOption {
	return func(l *Ledger) {
		if months > 0 {
			l.periodMonths = months
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) LedgerOption {
	return func(l *Ledger) { l.metrics = metrics }
}

// New creates a Ledger
func New(db *sql.DB, lookup plans.Lookup, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		db:           db,
		plans:        lookup,
		periodMonths: 1,
		now:          time.Now,
		logger:       observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NextPeriod returns t advanced by one renewal period
func (l *Ledger) NextPeriod(t time.Time) time.Time {
	return t.AddDate(0, l.periodMonths, 0)
}

// GetEntitlement returns the user's subscription with its plan
func (l *Ledger) GetEntitlement(ctx context.Context, userID int64) (*Subscription, error) {
	return scanSubscription(l.db.QueryRowContext(ctx, selectSubscription+" WHERE s.user_id = $1", userID))
}

// TryConsume atomically checks and decrements the counter for usage. When
// the counter is insufficient it returns *QuotaExceededError and writes
// nothing. This is the only consumption path.
func (l *Ledger) TryConsume(ctx context.Context, userID int64, usage Usage) (err error) {
	if err := usage.validate(); err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, "ledger.TryConsume",
		attribute.Int64("user.id", userID),
		attribute.String("usage.kind", string(usage.Kind)),
		attribute.Int("usage.amount", usage.Amount),
	)
	defer func() { observability.EndSpan(span, err) }()

	err = postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		sub, err := lockByUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		remaining := sub.Remaining(usage.Kind)
		if remaining < usage.Amount {
			return &QuotaExceededError{Kind: usage.Kind, Requested: usage.Amount, Remaining: remaining}
		}

		column := counterColumn(usage.Kind)
		query := fmt.Sprintf(`UPDATE subscriptions SET %s = %s - $2, updated_at = $3 WHERE user_id = $1`, column, column)
		if _, err := tx.ExecContext(ctx, query, userID, usage.Amount, l.now().UTC()); err != nil {
			return fmt.Errorf("failed to decrement %s: %w", column, err)
		}
		return nil
	})

	switch {
	case err == nil:
		l.metrics.RecordQuotaConsumed(string(usage.Kind))
	case IsQuotaExceeded(err):
		l.metrics.RecordQuotaRejected(string(usage.Kind))
	}
	return err
}

// Refund credits usage back, capped at the current plan's maximum. It is a
// compensating action for a failed note pipeline, never a grant.
func (l *Ledger) Refund(ctx context.Context, userID int64, usage Usage) error {
	if err := usage.validate(); err != nil {
		return err
	}

	err := postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		sub, err := lockByUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		limit := sub.Plan.MaxUploads
		if usage.Kind == UsageRecording {
			limit = sub.Plan.MaxRecordingTime
		}
		credited := sub.Remaining(usage.Kind) + usage.Amount
		if credited > limit {
			credited = limit
		}

		column := counterColumn(usage.Kind)
		query := fmt.Sprintf(`UPDATE subscriptions SET %s = $2, updated_at = $3 WHERE user_id = $1`, column)
		if _, err := tx.ExecContext(ctx, query, userID, credited, l.now().UTC()); err != nil {
			return fmt.Errorf("failed to refund %s: %w", column, err)
		}
		return nil
	})
	if err == nil {
		l.metrics.RecordQuotaRefunded(string(usage.Kind))
	}
	return err
}

// Provision inserts the initial free-plan subscription inside the caller's
// signup transaction.
func (l *Ledger) Provision(ctx context.Context, tx *sql.Tx, userID int64, freePlan *plans.Plan, now time.Time) error {
	if freePlan == nil || !freePlan.IsFree() {
		return fmt.Errorf("provision requires the free plan")
	}

	query := `
		INSERT INTO subscriptions (user_id, plan_id, renewal_date, uploads_left, recording_time_left, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now = now.UTC()
	if _, err := tx.ExecContext(ctx, query,
		userID, freePlan.ID, l.NextPeriod(now), freePlan.MaxUploads, freePlan.MaxRecordingTime, now,
	); err != nil {
		return fmt.Errorf("failed to provision subscription: %w", err)
	}
	return nil
}

// ApplyPlanChange moves the user to change.Plan with the given billing handle
// and renewal date. Counters reset to the plan maximums only when the plan or
// the handle differs from the current row, so reapplying the same change
// converges instead of granting a second allowance. A reset also marks the
// period ending at change.RenewalDate as paid.
func (l *Ledger) ApplyPlanChange(ctx context.Context, userID int64, change PlanChange) (err error) {
	if change.Plan == nil {
		return fmt.Errorf("plan change requires a plan")
	}

	ctx, span := observability.StartSpan(ctx, "ledger.ApplyPlanChange",
		attribute.Int64("user.id", userID),
		attribute.String("plan.type", string(change.Plan.Type)),
	)
	defer func() { observability.EndSpan(span, err) }()

	return postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		sub, err := lockByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if isStale(sub, change.EventAt) {
			return ErrStaleEvent
		}

		uploads, recording := sub.UploadsLeft, sub.RecordingTimeLeft
		paidThrough := sub.PaidThrough
		reset := sub.PlanID != change.Plan.ID || !sameHandle(sub.BillingSubscriptionHandle, change.BillingHandle)
		if reset {
			uploads, recording = change.Plan.MaxUploads, change.Plan.MaxRecordingTime
			end := change.RenewalDate.UTC()
			paidThrough = &end
		}

		l.logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"plan":      change.Plan.Type,
			"reset":     reset,
			"renewal":   change.RenewalDate,
			"from_plan": sub.Plan.Type,
		}).Info("Applying plan change")

		return writeState(ctx, tx, userID, state{
			planID:      change.Plan.ID,
			handle:      change.BillingHandle,
			renewalDate: change.RenewalDate.UTC(),
			uploads:     uploads,
			recording:   recording,
			eventAt:     newestEventAt(sub, change.EventAt),
			paidThrough: paidThrough,
			updatedAt:   l.now().UTC(),
		})
	})
}

// RevertToFreePlan moves the user to the free plan: handle cleared, counters
// at the free maximums, renewal one period from now.
func (l *Ledger) RevertToFreePlan(ctx context.Context, userID int64, opts ...Option) (err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.RevertToFreePlan", attribute.Int64("user.id", userID))
	defer func() { observability.EndSpan(span, err) }()

	free, err := l.plans.ByType(ctx, plans.PlanTypeFree)
	if err != nil {
		return fmt.Errorf("failed to resolve free plan: %w", err)
	}
	g := newGuard(opts)

	return postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		sub, err := lockByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := g.check(sub); err != nil {
			return err
		}

		now := l.now().UTC()
		l.logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"from_plan": sub.Plan.Type,
		}).Info("Reverting to free plan")

		return writeState(ctx, tx, userID, state{
			planID:      free.ID,
			handle:      nil,
			renewalDate: l.NextPeriod(now),
			uploads:     free.MaxUploads,
			recording:   free.MaxRecordingTime,
			eventAt:     newestEventAt(sub, g.asOf),
			updatedAt:   now,
		})
	})
}

// RenewPaidPeriod resets the counters of the row holding subscriptionHandle
// to its current plan's maximums and sets the renewal date to periodEnd.
// Each period is granted once: a periodEnd at or before the last paid period
// returns ErrStaleEvent and leaves the row alone.
func (l *Ledger) RenewPaidPeriod(ctx context.Context, subscriptionHandle string, periodEnd time.Time, opts ...Option) (err error) {
	ctx, span := observability.StartSpan(ctx, "ledger.RenewPaidPeriod",
		attribute.String("billing.subscription", subscriptionHandle))
	defer func() { observability.EndSpan(span, err) }()

	g := newGuard(opts)

	return postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		sub, err := scanSubscription(tx.QueryRowContext(ctx,
			selectSubscription+" WHERE s.billing_subscription_handle = $1 FOR UPDATE OF s", subscriptionHandle))
		if err != nil {
			return err
		}
		if err := g.check(sub); err != nil {
			return err
		}
		if sub.PaidThrough != nil && !periodEnd.After(*sub.PaidThrough) {
			l.logger.WithFields(map[string]interface{}{
				"user_id":      sub.UserID,
				"period_end":   periodEnd,
				"paid_through": *sub.PaidThrough,
			}).Info("Paid period already granted")
			return ErrStaleEvent
		}

		end := periodEnd.UTC()
		return writeState(ctx, tx, sub.UserID, state{
			planID:      sub.PlanID,
			handle:      sub.BillingSubscriptionHandle,
			renewalDate: end,
			uploads:     sub.Plan.MaxUploads,
			recording:   sub.Plan.MaxRecordingTime,
			eventAt:     newestEventAt(sub, g.asOf),
			paidThrough: &end,
			updatedAt:   l.now().UTC(),
		})
	})
}

// ResetFreeQuota restores the free maximums and advances the renewal date by
// exactly one period from its previous value. The row is re-checked under the
// lock: a row that moved to a paid plan or is no longer past its renewal date
// returns ErrNotDue.
func (l *Ledger) ResetFreeQuota(ctx context.Context, userID int64) (*Subscription, error) {
	var updated *Subscription
	err := postgres.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		sub, err := lockByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := l.now()
		if !sub.Plan.IsFree() || !sub.RenewalDate.Before(now) {
			return ErrNotDue
		}

		sub.RenewalDate = l.NextPeriod(sub.RenewalDate).UTC()
		sub.UploadsLeft = sub.Plan.MaxUploads
		sub.RecordingTimeLeft = sub.Plan.MaxRecordingTime
		sub.UpdatedAt = now.UTC()

		query := `
			UPDATE subscriptions
			SET uploads_left = $2, recording_time_left = $3, renewal_date = $4, updated_at = $5
			WHERE user_id = $1
		`
		if _, err := tx.ExecContext(ctx, query,
			userID, sub.UploadsLeft, sub.RecordingTimeLeft, sub.RenewalDate, sub.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to reset free quota: %w", err)
		}
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListDueFreeSubscriptions returns up to limit users on the free plan whose
// renewal date is before now, in user id order starting after afterUserID.
// Passing the last id of a page fetches the next one, so rows that stay due
// after a failed reset never block the rows behind them.
func (l *Ledger) ListDueFreeSubscriptions(ctx context.Context, now time.Time, afterUserID int64, limit int) ([]int64, error) {
	query := `
		SELECT s.user_id
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE p.plan_type = 'free' AND s.renewal_date < $1 AND s.user_id > $2
		ORDER BY s.user_id
		LIMIT $3
	`
	rows, err := l.db.QueryContext(ctx, query, now.UTC(), afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due subscriptions: %w", err)
	}
	return ids, nil
}

type state struct {
	planID      int64
	handle      *string
	renewalDate time.Time
	uploads     int
	recording   int
	eventAt     *time.Time
	paidThrough *time.Time
	updatedAt   time.Time
}

func writeState(ctx context.Context, tx *sql.Tx, userID int64, st state) error {
	query := `
		UPDATE subscriptions
		SET plan_id = $2, billing_subscription_handle = $3, renewal_date = $4,
		    uploads_left = $5, recording_time_left = $6, billing_event_at = $7, updated_at = $8,
		    paid_through = $9
		WHERE user_id = $1
	`
	var handle sql.NullString
	if st.handle != nil {
		handle = sql.NullString{String: *st.handle, Valid: true}
	}
	var eventAt, paidThrough sql.NullTime
	if st.eventAt != nil {
		eventAt = sql.NullTime{Time: *st.eventAt, Valid: true}
	}
	if st.paidThrough != nil {
		paidThrough = sql.NullTime{Time: *st.paidThrough, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, query,
		userID, st.planID, handle, st.renewalDate, st.uploads, st.recording, eventAt, st.updatedAt, paidThrough,
	); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func lockByUser(ctx context.Context, tx *sql.Tx, userID int64) (*Subscription, error) {
	return scanSubscription(tx.QueryRowContext(ctx, selectSubscription+" WHERE s.user_id = $1 FOR UPDATE OF s", userID))
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	sub := &Subscription{}
	var (
		handle      sql.NullString
		eventAt     sql.NullTime
		paidThrough sql.NullTime
		priceHandle sql.NullString
	)
	err := row.Scan(
		&sub.UserID, &sub.PlanID, &sub.RenewalDate, &sub.UploadsLeft, &sub.RecordingTimeLeft,
		&handle, &eventAt, &paidThrough, &sub.UpdatedAt,
		&sub.Plan.Type, &sub.Plan.PriceCents, &sub.Plan.MaxUploads, &sub.Plan.MaxRecordingTime, &priceHandle,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	sub.Plan.ID = sub.PlanID
	if handle.Valid {
		h := handle.String
		sub.BillingSubscriptionHandle = &h
	}
	if eventAt.Valid {
		t := eventAt.Time
		sub.BillingEventAt = &t
	}
	if paidThrough.Valid {
		t := paidThrough.Time
		sub.PaidThrough = &t
	}
	if priceHandle.Valid {
		h := priceHandle.String
		sub.Plan.PriceHandle = &h
	}
	return sub, nil
}

func counterColumn(kind UsageKind) string {
	if kind == UsageRecording {
		return "recording_time_left"
	}
	return "uploads_left"
}
