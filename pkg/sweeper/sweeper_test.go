package sweeper

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/plans"
)

var sweepNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeRow struct {
	free    bool
	renewal time.Time
	uploads int
}

// fakeLedger mimics the ledger's reset rule: one month per call, re-checked
// under a lock
type fakeLedger struct {
	mu      sync.Mutex
	rows    map[int64]*fakeRow
	fail    map[int64]error
	resets  map[int64]int
	listErr error
	lists   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		rows:   make(map[int64]*fakeRow),
		fail:   make(map[int64]error),
		resets: make(map[int64]int),
	}
}

func (f *fakeLedger) ListDueFreeSubscriptions(_ context.Context, now time.Time, afterUserID int64, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []int64
	for id, row := range f.rows {
		if id > afterUserID && row.free && row.renewal.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeLedger) ResetFreeQuota(_ context.Context, userID int64) (*ledger.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[userID]; err != nil {
		return nil, err
	}
	row := f.rows[userID]
	if row == nil || !row.free || !row.renewal.Before(sweepNow) {
		return nil, ledger.ErrNotDue
	}
	row.renewal = row.renewal.AddDate(0, 1, 0)
	row.uploads = 3
	f.resets[userID]++
	return &ledger.Subscription{
		UserID:      userID,
		Plan:        plans.Plan{Type: plans.PlanTypeFree, MaxUploads: 3},
		UploadsLeft: row.uploads,
		RenewalDate: row.renewal,
	}, nil
}

func newTestSweeper(l Ledger, cfg Config) *Sweeper {
	return New(l, cfg, WithClock(func() time.Time { return sweepNow }))
}

func TestSweep_ResetsDueFreeRows(t *testing.T) {
	l := newFakeLedger()
	l.rows[1] = &fakeRow{free: true, renewal: sweepNow.Add(-time.Hour)}
	l.rows[2] = &fakeRow{free: true, renewal: sweepNow.Add(24 * time.Hour), uploads: 1}
	l.rows[3] = &fakeRow{free: false, renewal: sweepNow.Add(-time.Hour), uploads: 1}

	n, err := newTestSweeper(l, Config{}).SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 3, l.rows[1].uploads)
	assert.Equal(t, sweepNow.Add(-time.Hour).AddDate(0, 1, 0), l.rows[1].renewal)
	assert.Equal(t, 1, l.rows[2].uploads)
	assert.Equal(t, 1, l.rows[3].uploads)
}

func TestSweep_LateSweepKeepsCadence(t *testing.T) {
	// Ten days overdue still advances from the old renewal date, not from now
	l := newFakeLedger()
	due := sweepNow.AddDate(0, 0, -10)
	l.rows[1] = &fakeRow{free: true, renewal: due}

	n, err := newTestSweeper(l, Config{}).SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, due.AddDate(0, 1, 0), l.rows[1].renewal)
	assert.Equal(t, 1, l.resets[1])
}

func TestSweep_CatchesUpMissedPeriods(t *testing.T) {
	l := newFakeLedger()
	due := sweepNow.AddDate(0, -3, -2)
	l.rows[1] = &fakeRow{free: true, renewal: due}

	n, err := newTestSweeper(l, Config{}).SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rows are counted once regardless of periods")
	assert.Equal(t, 4, l.resets[1])
	assert.Equal(t, due.AddDate(0, 4, 0), l.rows[1].renewal)
	assert.True(t, l.rows[1].renewal.After(sweepNow))
}

func TestSweep_CatchUpIsBounded(t *testing.T) {
	l := newFakeLedger()
	l.rows[1] = &fakeRow{free: true, renewal: sweepNow.AddDate(-1, 0, 0)}

	n, err := newTestSweeper(l, Config{MaxCatchUpPeriods: 2}).SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, l.resets[1])
	assert.True(t, l.rows[1].renewal.Before(sweepNow))
}

func TestSweep_RowFailureDoesNotStopOthers(t *testing.T) {
	l := newFakeLedger()
	for id := int64(1); id <= 5; id++ {
		l.rows[id] = &fakeRow{free: true, renewal: sweepNow.Add(-time.Minute)}
	}
	l.fail[3] = errors.New("deadlock detected")

	n, err := newTestSweeper(l, Config{Workers: 2}).SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, l.resets[3])
	for _, id := range []int64{1, 2, 4, 5} {
		assert.Equal(t, 1, l.resets[id], "user %d", id)
	}
}

func TestSweep_PagesThroughBatches(t *testing.T) {
	l := newFakeLedger()
	for id := int64(1); id <= 7; id++ {
		l.rows[id] = &fakeRow{free: true, renewal: sweepNow.Add(-time.Minute)}
	}
	l.fail[2] = errors.New("boom")

	n, err := newTestSweeper(l, Config{BatchSize: 3}).SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	// The failing row stays due but is not retried, so paging terminates
	assert.Equal(t, 3, l.lists)
}

func TestSweep_FailingBatchDoesNotStarveLaterRows(t *testing.T) {
	l := newFakeLedger()
	for id := int64(1); id <= 5; id++ {
		l.rows[id] = &fakeRow{free: true, renewal: sweepNow.Add(-time.Minute)}
	}
	// The whole first page keeps failing
	l.fail[1] = errors.New("lock timeout")
	l.fail[2] = errors.New("lock timeout")

	n, err := newTestSweeper(l, Config{BatchSize: 2}).SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, id := range []int64{3, 4, 5} {
		assert.Equal(t, 1, l.resets[id], "user %d", id)
	}
	assert.Equal(t, 0, l.resets[1])
	assert.Equal(t, 0, l.resets[2])
}

func TestSweep_NotDueIsSkipped(t *testing.T) {
	l := newFakeLedger()
	l.rows[1] = &fakeRow{free: true, renewal: sweepNow.Add(-time.Minute)}
	l.fail[1] = ledger.ErrNotDue

	n, err := newTestSweeper(l, Config{}).SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweep_ListFailure(t *testing.T) {
	l := newFakeLedger()
	l.listErr = errors.New("connection refused")

	_, err := newTestSweeper(l, Config{}).SweepExpiredFreeQuotas(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list due subscriptions")
}

func TestSweep_Idempotent(t *testing.T) {
	l := newFakeLedger()
	l.rows[1] = &fakeRow{free: true, renewal: sweepNow.Add(-time.Minute)}
	s := newTestSweeper(l, Config{})

	first, err := s.SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)
	second, err := s.SweepExpiredFreeQuotas(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
	assert.Equal(t, 1, l.resets[1])
}
