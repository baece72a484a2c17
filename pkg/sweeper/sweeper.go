package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/voxnote/pkg/async"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/observability"
)

// Ledger is the subset of the subscription ledger the sweeper drives
type Ledger interface {
	ListDueFreeSubscriptions(ctx context.Context, now time.Time, afterUserID int64, limit int) ([]int64, error)
	ResetFreeQuota(ctx context.Context, userID int64) (*ledger.Subscription, error)
}

// Config controls one sweep
type Config struct {
	Workers    int
	RowTimeout time.Duration
	BatchSize  int
	// MaxCatchUpPeriods bounds how many periods one row may advance in a
	// single sweep
	MaxCatchUpPeriods int
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 4
	}
	if c.RowTimeout <= 0 {
		c.RowTimeout = 30 * time.Second
	}
	if c.BatchSize < 1 {
		c.BatchSize = 500
	}
	if c.MaxCatchUpPeriods < 1 {
		c.MaxCatchUpPeriods = 24
	}
	return c
}

// Sweeper resets free-tier quotas whose renewal date has passed. It holds no
// state between runs.
type Sweeper struct {
	ledger  Ledger
	cfg     Config
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Sweeper
type Option func(*Sweeper)

// WithLogger sets the logger for per-row failures and sweep summaries
func WithLogger(logger *observability.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// WithMetrics records sweep results. A nil sink is a no-op.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Sweeper) { s.metrics = metrics }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a Sweeper
func New(l Ledger, cfg Config, opts ...Option) *Sweeper {
	s := &Sweeper{
		ledger: l,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepExpiredFreeQuotas resets every due free-plan row and returns the
// number of rows reset. Each row is reset in its own transaction; a failing
// row is logged and skipped. Only a failure to list due rows is returned.
func (s *Sweeper) SweepExpiredFreeQuotas(ctx context.Context) (resets int, err error) {
	started := s.now()
	defer func() { s.metrics.RecordSweep(resets, err) }()

	var (
		total  atomic.Int64
		failed int
		after  int64
	)
	for {
		ids, err := s.ledger.ListDueFreeSubscriptions(ctx, s.now(), after, s.cfg.BatchSize)
		if err != nil {
			return int(total.Load()), fmt.Errorf("failed to list due subscriptions: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		errs := async.Batch(ctx, ids, s.cfg.Workers, "reset free quota", s.cfg.RowTimeout,
			func(ctx context.Context, userID int64) error {
				reset, err := s.resetRow(ctx, userID)
				if reset {
					total.Add(1)
				}
				return err
			})
		for _, e := range errs {
			failed++
			s.logger.WithError(e.Err).WithField("user_id", e.Item).Error("Failed to reset free quota")
		}

		// Rows that failed or hit the catch-up bound stay due; the cursor
		// moves past them so each row is visited once per sweep
		after = ids[len(ids)-1]
		if len(ids) < s.cfg.BatchSize || ctx.Err() != nil {
			break
		}
	}

	resets = int(total.Load())
	s.logger.WithFields(map[string]interface{}{
		"resets":   resets,
		"failed":   failed,
		"duration": s.now().Sub(started).String(),
	}).Info("Free quota sweep finished")
	return resets, ctx.Err()
}

// resetRow resets one row and catches up missed periods, one locked
// transaction per period, until the renewal date is in the future
func (s *Sweeper) resetRow(ctx context.Context, userID int64) (bool, error) {
	sub, err := s.ledger.ResetFreeQuota(ctx, userID)
	if errors.Is(err, ledger.ErrNotDue) {
		// Upgraded or reset by another replica since listing
		return false, nil
	}
	if err != nil {
		return false, err
	}

	periods := 1
	for sub.RenewalDate.Before(s.now()) && periods < s.cfg.MaxCatchUpPeriods {
		next, err := s.ledger.ResetFreeQuota(ctx, userID)
		if errors.Is(err, ledger.ErrNotDue) {
			break
		}
		if err != nil {
			return true, fmt.Errorf("catch-up after %d periods: %w", periods, err)
		}
		sub = next
		periods++
	}
	if sub.RenewalDate.Before(s.now()) {
		s.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"periods": periods,
			"renewal": sub.RenewalDate,
		}).Warn("Free quota still behind after catch-up limit")
	}
	return true, nil
}
