package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/voxnote/pkg/observability"
)

// Run executes fn synchronously with a timeout and converts a panic into an
// error, so a misbehaving task cannot take down a long-lived scheduler.
//
// Example:
//
//	err := async.Run(ctx, 10*time.Minute, "renewal sweep", func(ctx context.Context) error {
//	    _, err := sweeper.SweepExpiredFreeQuotas(ctx)
//	    return err
//	})
func Run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx := parentCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", taskName, r, debug.Stack())
		}
	}()

	return fn(ctx)
}

// SafeGo executes fn in a goroutine with a timeout and panic recovery.
// Errors are logged, never propagated.
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		if err := Run(parentCtx, timeout, taskName, fn); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

// ItemError pairs a failed batch item with its error
type ItemError[T any] struct {
	Item T
	Err  error
}

func (e ItemError[T]) Error() string {
	return fmt.Sprintf("%v: %v", e.Item, e.Err)
}

func (e ItemError[T]) Unwrap() error {
	return e.Err
}

// Batch processes items concurrently with at most workers in flight. Each
// item gets its own timeout and panic recovery. A failing item never stops
// the others; every failure is returned.
//
// Example:
//
//	errs := async.Batch(ctx, userIDs, 4, "reset free quota", 30*time.Second, func(ctx context.Context, id int64) error {
//	    return reset(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []ItemError[T] {

	if workers < 1 {
		workers = 1
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []ItemError[T]
	)
	g.SetLimit(workers)

	for _, item := range items {
		item := item
		if ctx.Err() != nil {
			mu.Lock()
			errs = append(errs, ItemError[T]{Item: item, Err: ctx.Err()})
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			if err := Run(ctx, timeout, taskName, func(ctx context.Context) error {
				return fn(ctx, item)
			}); err != nil {
				mu.Lock()
				errs = append(errs, ItemError[T]{Item: item, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errs
}
