package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/voxnote/pkg/plans"
)

var (
	fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	freePlan     = &plans.Plan{ID: 1, Type: plans.PlanTypeFree, MaxUploads: 3, MaxRecordingTime: 300}
	standardPlan = &plans.Plan{ID: 2, Type: plans.PlanTypeStandard, PriceCents: 999, MaxUploads: 30, MaxRecordingTime: 3600, PriceHandle: strPtr("price_std")}
	proPlan      = &plans.Plan{ID: 3, Type: plans.PlanTypePro, PriceCents: 1999, MaxUploads: 100, MaxRecordingTime: 18000, PriceHandle: strPtr("price_pro")}

	subscriptionColumns = []string{
		"user_id", "plan_id", "renewal_date", "uploads_left", "recording_time_left",
		"billing_subscription_handle", "billing_event_at", "paid_through", "updated_at",
		"plan_type", "price_cents", "max_uploads", "max_recording_time", "price_handle",
	}
)

func strPtr(s string) *string { return &s }

// timeArg matches a time argument by instant
type timeArg time.Time

func (a timeArg) Match(v driver.Value) bool {
	t, ok := v.(time.Time)
	return ok && t.Equal(time.Time(a))
}

type row struct {
	userID      int64
	plan        *plans.Plan
	renewal     time.Time
	uploads     int
	recording   int
	handle      *string
	eventAt     *time.Time
	paidThrough *time.Time
}

func (r row) rows() *sqlmock.Rows {
	var handle, eventAt, paidThrough, priceHandle driver.Value
	if r.handle != nil {
		handle = *r.handle
	}
	if r.eventAt != nil {
		eventAt = *r.eventAt
	}
	if r.paidThrough != nil {
		paidThrough = *r.paidThrough
	}
	if r.plan.PriceHandle != nil {
		priceHandle = *r.plan.PriceHandle
	}
	return sqlmock.NewRows(subscriptionColumns).AddRow(
		r.userID, r.plan.ID, r.renewal, r.uploads, r.recording,
		handle, eventAt, paidThrough, fixedNow,
		string(r.plan.Type), r.plan.PriceCents, r.plan.MaxUploads, r.plan.MaxRecordingTime, priceHandle,
	)
}

func setupLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := New(db, plans.Static{freePlan, standardPlan, proPlan}, WithClock(func() time.Time { return fixedNow }))
	return l, mock
}

const lockByUserQuery = `FROM subscriptions s JOIN plans p ON p.id = s.plan_id WHERE s.user_id = \$1 FOR UPDATE OF s`

const writeStateQuery = `UPDATE subscriptions SET plan_id = \$2, billing_subscription_handle = \$3`

func TestGetEntitlement(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectQuery(`WHERE s.user_id = \$1`).WithArgs(int64(7)).
		WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 2, recording: 120}.rows())

	sub, err := l.GetEntitlement(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sub.UserID)
	assert.Equal(t, plans.PlanTypeFree, sub.Plan.Type)
	assert.Equal(t, freePlan.ID, sub.Plan.ID)
	assert.Equal(t, 2, sub.UploadsLeft)
	assert.Nil(t, sub.BillingSubscriptionHandle)

	mock.ExpectQuery(`WHERE s.user_id = \$1`).WithArgs(int64(8)).WillReturnError(sql.ErrNoRows)
	_, err = l.GetEntitlement(context.Background(), 8)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsume_Upload(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).WithArgs(int64(7)).
		WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 3, recording: 300}.rows())
	mock.ExpectExec(`UPDATE subscriptions SET uploads_left = uploads_left - \$2`).
		WithArgs(int64(7), 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, l.TryConsume(context.Background(), 7, Upload()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsume_UploadExhausted(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).WithArgs(int64(7)).
		WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 0, recording: 300}.rows())
	// No UPDATE: the counters stay untouched
	mock.ExpectRollback()

	err := l.TryConsume(context.Background(), 7, Upload())
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))

	qe, ok := AsQuotaExceeded(err)
	require.True(t, ok)
	assert.Equal(t, UsageUpload, qe.Kind)
	assert.Equal(t, 0, qe.Remaining)
	assert.Equal(t, "No uploads left", qe.Message())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsume_RecordingSeconds(t *testing.T) {
	t.Run("enough time", func(t *testing.T) {
		l, mock := setupLedger(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockByUserQuery).
			WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 0, recording: 300}.rows())
		mock.ExpectExec(`UPDATE subscriptions SET recording_time_left = recording_time_left - \$2`).
			WithArgs(int64(7), 300, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, l.TryConsume(context.Background(), 7, RecordingSeconds(300)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not enough time", func(t *testing.T) {
		l, mock := setupLedger(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockByUserQuery).
			WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 3, recording: 100}.rows())
		mock.ExpectRollback()

		err := l.TryConsume(context.Background(), 7, RecordingSeconds(120))
		qe, ok := AsQuotaExceeded(err)
		require.True(t, ok)
		assert.Equal(t, UsageRecording, qe.Kind)
		assert.Equal(t, 120, qe.Requested)
		assert.Equal(t, 100, qe.Remaining)
		assert.Equal(t, "No recording time left", qe.Message())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTryConsume_MissingSubscription(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := l.TryConsume(context.Background(), 7, Upload())
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.False(t, IsQuotaExceeded(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsume_InvalidUsage(t *testing.T) {
	l, mock := setupLedger(t)

	assert.ErrorIs(t, l.TryConsume(context.Background(), 7, RecordingSeconds(0)), ErrInvalidUsage)
	assert.ErrorIs(t, l.TryConsume(context.Background(), 7, Usage{Kind: "minutes", Amount: 1}), ErrInvalidUsage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsume_UpdateFailure(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).
		WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 1, recording: 0}.rows())
	mock.ExpectExec(`UPDATE subscriptions`).WillReturnError(errors.New("check constraint violated"))
	mock.ExpectRollback()

	err := l.TryConsume(context.Background(), 7, Upload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrement uploads_left")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefund_CappedAtPlanMaximum(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).
		WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 3, recording: 250}.rows())
	mock.ExpectExec(`UPDATE subscriptions SET recording_time_left = \$2`).
		WithArgs(int64(7), 300, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, l.Refund(context.Background(), 7, RecordingSeconds(120)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvision(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO subscriptions`).
		WithArgs(int64(9), freePlan.ID, timeArg(fixedNow.AddDate(0, 1, 0)), 3, 300, timeArg(fixedNow)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := l.db.Begin()
	require.NoError(t, err)
	require.NoError(t, l.Provision(context.Background(), tx, 9, freePlan, fixedNow))
	require.NoError(t, tx.Commit())

	assert.Error(t, l.Provision(context.Background(), nil, 9, proPlan, fixedNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPlanChange_UpgradeResetsCounters(t *testing.T) {
	l, mock := setupLedger(t)
	periodEnd := fixedNow.AddDate(0, 1, 0)
	eventAt := fixedNow.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).WithArgs(int64(7)).
		WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 0, recording: 12}.rows())
	mock.ExpectExec(writeStateQuery).
		WithArgs(int64(7), proPlan.ID, "sub_123", timeArg(periodEnd), 100, 18000, timeArg(eventAt), sqlmock.AnyArg(), timeArg(periodEnd)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := l.ApplyPlanChange(context.Background(), 7, PlanChange{
		Plan:          proPlan,
		BillingHandle: strPtr("sub_123"),
		RenewalDate:   periodEnd,
		EventAt:       eventAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPlanChange_ReapplicationDoesNotReset(t *testing.T) {
	l, mock := setupLedger(t)
	periodEnd := fixedNow.AddDate(0, 1, 0)
	eventAt := fixedNow.Add(-time.Minute)

	// Row already reflects the change and the user has consumed since
	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).
		WillReturnRows(row{userID: 7, plan: proPlan, renewal: periodEnd, uploads: 97, recording: 17000,
			handle: strPtr("sub_123"), eventAt: &eventAt, paidThrough: &periodEnd}.rows())
	mock.ExpectExec(writeStateQuery).
		WithArgs(int64(7), proPlan.ID, "sub_123", timeArg(periodEnd), 97, 17000, timeArg(eventAt), sqlmock.AnyArg(), timeArg(periodEnd)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := l.ApplyPlanChange(context.Background(), 7, PlanChange{
		Plan:          proPlan,
		BillingHandle: strPtr("sub_123"),
		RenewalDate:   periodEnd,
		EventAt:       eventAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPlanChange_CycleUpdateKeepsPaidPeriod(t *testing.T) {
	l, mock := setupLedger(t)
	paid := fixedNow.AddDate(0, 0, 3)
	next := paid.AddDate(0, 1, 0)
	eventAt := fixedNow

	// The cycle update names the next period end before its invoice is paid
	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).
		WillReturnRows(row{userID: 7, plan: proPlan, renewal: paid, uploads: 4, recording: 60,
			handle: strPtr("sub_123"), paidThrough: &paid}.rows())
	mock.ExpectExec(writeStateQuery).
		WithArgs(int64(7), proPlan.ID, "sub_123", timeArg(next), 4, 60, timeArg(eventAt), sqlmock.AnyArg(), timeArg(paid)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := l.ApplyPlanChange(context.Background(), 7, PlanChange{
		Plan:          proPlan,
		BillingHandle: strPtr("sub_123"),
		RenewalDate:   next,
		EventAt:       eventAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPlanChange_NewHandleSamePlanResets(t *testing.T) {
	l, mock := setupLedger(t)
	periodEnd := fixedNow.AddDate(0, 1, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).
		WillReturnRows(row{userID: 7, plan: standardPlan, renewal: fixedNow, uploads: 1, recording: 5,
			handle: strPtr("sub_old")}.rows())
	mock.ExpectExec(writeStateQuery).
		WithArgs(int64(7), standardPlan.ID, "sub_new", timeArg(periodEnd), 30, 3600, nil, sqlmock.AnyArg(), timeArg(periodEnd)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := l.ApplyPlanChange(context.Background(), 7, PlanChange{
		Plan:          standardPlan,
		BillingHandle: strPtr("sub_new"),
		RenewalDate:   periodEnd,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPlanChange_StaleEvent(t *testing.T) {
	l, mock := setupLedger(t)
	applied := fixedNow

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).
		WillReturnRows(row{userID: 7, plan: freePlan, renewal: fixedNow, uploads: 3, recording: 300,
			eventAt: &applied}.rows())
	mock.ExpectRollback()

	err := l.ApplyPlanChange(context.Background(), 7, PlanChange{
		Plan:          proPlan,
		BillingHandle: strPtr("sub_123"),
		RenewalDate:   fixedNow.AddDate(0, 1, 0),
		EventAt:       applied.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertToFreePlan_CancelledPro(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).WithArgs(int64(7)).
		WillReturnRows(row{userID: 7, plan: proPlan, renewal: fixedNow.AddDate(0, 0, 10), uploads: 40, recording: 9000,
			handle: strPtr("sub_123")}.rows())
	mock.ExpectExec(writeStateQuery).
		WithArgs(int64(7), freePlan.ID, nil, timeArg(fixedNow.AddDate(0, 1, 0)), 3, 300, nil, timeArg(fixedNow), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, l.RevertToFreePlan(context.Background(), 7, IfHandle("sub_123")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertToFreePlan_SupersededHandle(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).
		WillReturnRows(row{userID: 7, plan: proPlan, renewal: fixedNow, uploads: 100, recording: 18000,
			handle: strPtr("sub_new")}.rows())
	mock.ExpectRollback()

	err := l.RevertToFreePlan(context.Background(), 7, IfHandle("sub_old"))
	assert.ErrorIs(t, err, ErrHandleMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertToFreePlan_Stale(t *testing.T) {
	l, mock := setupLedger(t)
	applied := fixedNow

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).
		WillReturnRows(row{userID: 7, plan: proPlan, renewal: fixedNow, uploads: 100, recording: 18000,
			handle: strPtr("sub_123"), eventAt: &applied}.rows())
	mock.ExpectRollback()

	err := l.RevertToFreePlan(context.Background(), 7, AsOf(applied.Add(-time.Second)), IfHandle("sub_123"))
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertToFreePlan_MissingFreePlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := New(db, plans.Static{proPlan})
	err = l.RevertToFreePlan(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, plans.ErrPlanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewPaidPeriod(t *testing.T) {
	const byHandleQuery = `WHERE s.billing_subscription_handle = \$1 FOR UPDATE OF s`

	t.Run("resets to current plan maximums", func(t *testing.T) {
		l, mock := setupLedger(t)
		paid := fixedNow
		periodEnd := fixedNow.AddDate(0, 1, 0)

		mock.ExpectBegin()
		mock.ExpectQuery(byHandleQuery).WithArgs("sub_123").
			WillReturnRows(row{userID: 7, plan: standardPlan, renewal: fixedNow, uploads: 0, recording: 0,
				handle: strPtr("sub_123"), paidThrough: &paid}.rows())
		mock.ExpectExec(writeStateQuery).
			WithArgs(int64(7), standardPlan.ID, "sub_123", timeArg(periodEnd), 30, 3600, nil, sqlmock.AnyArg(), timeArg(periodEnd)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, l.RenewPaidPeriod(context.Background(), "sub_123", periodEnd))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row without a recorded paid period renews", func(t *testing.T) {
		l, mock := setupLedger(t)
		periodEnd := fixedNow.AddDate(0, 1, 0)

		mock.ExpectBegin()
		mock.ExpectQuery(byHandleQuery).WithArgs("sub_123").
			WillReturnRows(row{userID: 7, plan: standardPlan, renewal: fixedNow, uploads: 2, recording: 10,
				handle: strPtr("sub_123")}.rows())
		mock.ExpectExec(writeStateQuery).
			WithArgs(int64(7), standardPlan.ID, "sub_123", timeArg(periodEnd), 30, 3600, nil, sqlmock.AnyArg(), timeArg(periodEnd)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, l.RenewPaidPeriod(context.Background(), "sub_123", periodEnd))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("renews after the cycle update moved the renewal date", func(t *testing.T) {
		l, mock := setupLedger(t)
		paid := fixedNow
		periodEnd := fixedNow.AddDate(0, 1, 0)

		mock.ExpectBegin()
		mock.ExpectQuery(byHandleQuery).WithArgs("sub_123").
			WillReturnRows(row{userID: 7, plan: standardPlan, renewal: periodEnd, uploads: 1, recording: 0,
				handle: strPtr("sub_123"), paidThrough: &paid}.rows())
		mock.ExpectExec(writeStateQuery).
			WithArgs(int64(7), standardPlan.ID, "sub_123", timeArg(periodEnd), 30, 3600, nil, sqlmock.AnyArg(), timeArg(periodEnd)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, l.RenewPaidPeriod(context.Background(), "sub_123", periodEnd))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeated invoice is not granted twice", func(t *testing.T) {
		l, mock := setupLedger(t)
		periodEnd := fixedNow.AddDate(0, 1, 0)

		// First delivery already renewed the row and the user consumed since
		mock.ExpectBegin()
		mock.ExpectQuery(byHandleQuery).WithArgs("sub_123").
			WillReturnRows(row{userID: 7, plan: standardPlan, renewal: periodEnd, uploads: 12, recording: 900,
				handle: strPtr("sub_123"), paidThrough: &periodEnd}.rows())
		mock.ExpectRollback()

		err := l.RenewPaidPeriod(context.Background(), "sub_123", periodEnd)
		assert.ErrorIs(t, err, ErrStaleEvent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invoice for an earlier period is ignored", func(t *testing.T) {
		l, mock := setupLedger(t)
		paid := fixedNow.AddDate(0, 2, 0)

		mock.ExpectBegin()
		mock.ExpectQuery(byHandleQuery).WithArgs("sub_123").
			WillReturnRows(row{userID: 7, plan: standardPlan, renewal: paid, uploads: 20, recording: 1800,
				handle: strPtr("sub_123"), paidThrough: &paid}.rows())
		mock.ExpectRollback()

		err := l.RenewPaidPeriod(context.Background(), "sub_123", fixedNow.AddDate(0, 1, 0))
		assert.ErrorIs(t, err, ErrStaleEvent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown handle", func(t *testing.T) {
		l, mock := setupLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`WHERE s.billing_subscription_handle = \$1`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := l.RenewPaidPeriod(context.Background(), "sub_gone", fixedNow)
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestResetFreeQuota_AdvancesFromPreviousDate(t *testing.T) {
	l, mock := setupLedger(t)
	overdue := fixedNow.AddDate(0, 0, -10)
	expected := overdue.AddDate(0, 1, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(lockByUserQuery).WithArgs(int64(7)).
		WillReturnRows(row{userID: 7, plan: freePlan, renewal: overdue, uploads: 0, recording: 4}.rows())
	mock.ExpectExec(`UPDATE subscriptions SET uploads_left = \$2, recording_time_left = \$3, renewal_date = \$4`).
		WithArgs(int64(7), 3, 300, timeArg(expected), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := l.ResetFreeQuota(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, sub.RenewalDate.Equal(expected), "renewal advances from the previous date, not from now")
	assert.False(t, sub.RenewalDate.Equal(fixedNow.AddDate(0, 1, 0)))
	assert.Equal(t, 3, sub.UploadsLeft)
	assert.Equal(t, 300, sub.RecordingTimeLeft)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetFreeQuota_NotDue(t *testing.T) {
	tests := []struct {
		name string
		row  row
	}{
		{"renewal in the future", row{userID: 7, plan: freePlan, renewal: fixedNow.Add(time.Hour), uploads: 1}},
		{"moved to a paid plan", row{userID: 7, plan: proPlan, renewal: fixedNow.AddDate(0, 0, -1), uploads: 1, handle: strPtr("sub_1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mock := setupLedger(t)
			mock.ExpectBegin()
			mock.ExpectQuery(lockByUserQuery).WillReturnRows(tt.row.rows())
			mock.ExpectRollback()

			_, err := l.ResetFreeQuota(context.Background(), 7)
			assert.ErrorIs(t, err, ErrNotDue)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestListDueFreeSubscriptions(t *testing.T) {
	l, mock := setupLedger(t)

	mock.ExpectQuery(`WHERE p.plan_type = 'free' AND s.renewal_date < \$1 AND s.user_id > \$2\s+ORDER BY s.user_id`).
		WithArgs(timeArg(fixedNow), int64(0), 100).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(4)).AddRow(int64(9)))

	ids, err := l.ListDueFreeSubscriptions(context.Background(), fixedNow, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)

	mock.ExpectQuery(`WHERE p.plan_type = 'free'`).
		WithArgs(timeArg(fixedNow), int64(9), 100).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	ids, err = l.ListDueFreeSubscriptions(context.Background(), fixedNow, 9, 100)
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextPeriod(t *testing.T) {
	l := New(nil, nil)
	assert.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), l.NextPeriod(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)))

	quarterly := New(nil, nil, WithPeriod(3))
	assert.Equal(t, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), quarterly.NextPeriod(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)))
}
