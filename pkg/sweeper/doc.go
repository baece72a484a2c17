// Package sweeper resets free-tier quotas once their renewal date passes.
//
// SweepExpiredFreeQuotas lists due rows and resets each through the ledger
// in its own transaction, a bounded number of rows at a time. A row more
// than one period behind is reset again, one period per transaction, until
// its renewal date is in the future or MaxCatchUpPeriods is reached. The
// advance is always from the previous renewal date, so a late sweep keeps
// the user's cadence.
//
// CronScheduler runs the sweep on a cron expression (daily at midnight UTC
// by default). A Redis lock keeps replicas from sweeping concurrently; the
// per-row locks already make an overlap safe.
package sweeper
