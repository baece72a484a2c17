package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/voxnote/pkg/async"
	"github.com/platinummonkey/voxnote/pkg/observability"
)

const lockKey = "voxnote:sweeper:lock"

// Scheduler runs the sweep on a recurring schedule
type Scheduler interface {
	Start(ctx context.Context) error
	// Stop halts scheduling; the returned context is done once a running
	// sweep has finished
	Stop() context.Context
}

// Locker is a distributed mutex. kv.RedisClient implements it.
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// Sweep is the task a scheduler invokes
type Sweep interface {
	SweepExpiredFreeQuotas(ctx context.Context) (int, error)
}

// CronScheduler triggers the sweep from a cron expression. With a Locker,
// only one replica sweeps per tick.
type CronScheduler struct {
	spec       string
	sweep      Sweep
	locker     Locker
	lockTTL    time.Duration
	runTimeout time.Duration
	logger     *observability.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// SchedulerOption configures a CronScheduler
type SchedulerOption func(*CronScheduler)

// WithLocker serializes sweeps across replicas
func WithLocker(locker Locker, ttl time.Duration) SchedulerOption {
	return func(s *CronScheduler) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithRunTimeout bounds one sweep. Non-positive values keep the default.
func WithRunTimeout(d time.Duration) SchedulerOption {
	return func(s *CronScheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithSchedulerLogger sets the logger for run and lock events
func WithSchedulerLogger(logger *observability.Logger) SchedulerOption {
	return func(s *CronScheduler) { s.logger = logger }
}

// NewCronScheduler creates a scheduler for spec, a standard five-field cron
// expression evaluated in UTC
func NewCronScheduler(spec string, sweep Sweep, opts ...SchedulerOption) *CronScheduler {
	s := &CronScheduler{
		spec:       spec,
		sweep:      sweep,
		lockTTL:    30 * time.Minute,
		runTimeout: 30 * time.Minute,
		logger:     observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the sweep and begins scheduling. Runs derive from ctx.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.WithError(err).Error("Scheduled sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.spec, err)
	}

	c.Start()
	s.cron = c
	s.logger.WithField("schedule", s.spec).Info("Sweep scheduler started")
	return nil
}

// Stop implements Scheduler
func (s *CronScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := s.cron.Stop()
	s.cron = nil
	return done
}

// RunOnce performs one sweep under the distributed lock. When another
// replica holds the lock it returns 0 without sweeping. A panicking sweep is
// returned as an error.
func (s *CronScheduler) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if s.locker != nil {
		token := uuid.NewString()
		ok, err := s.locker.TryLock(ctx, lockKey, token, s.lockTTL)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !ok {
			s.logger.Info("Sweep already running elsewhere, skipping")
			return 0, nil
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.logger.WithError(err).Warn("Failed to release sweep lock")
			}
		}()
	}

	var resets int
	err := async.Run(ctx, 0, "renewal sweep", func(ctx context.Context) error {
		var err error
		resets, err = s.sweep.SweepExpiredFreeQuotas(ctx)
		return err
	})
	return resets, err
}

// cronLogger adapts the service logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
