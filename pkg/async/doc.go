// Package async provides safe concurrent execution primitives for background
// tasks: panic recovery, per-task timeouts and bounded batch processing.
//
// Run: synchronous execution that turns panics into errors
//
//	err := async.Run(ctx, time.Minute, "renewal sweep", sweep)
//
// SafeGo: fire-and-forget goroutine that logs failures
//
//	async.SafeGo(ctx, logger, 5*time.Second, "artifact cleanup", cleanup)
//
// Batch: bounded concurrent processing with per-item error isolation
//
//	errs := async.Batch(ctx, ids, 4, "reset", 30*time.Second, resetOne)
package async
