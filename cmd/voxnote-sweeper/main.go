package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/voxnote/pkg/app"
	"github.com/platinummonkey/voxnote/pkg/config"
	"github.com/platinummonkey/voxnote/pkg/observability"
)

var (
	runOnce  = flag.Bool("run-once", false, "Run a single sweep and exit (for cron jobs and backfills)")
	schedule = flag.String("schedule", "", "Cron schedule override (default: VOXNOTE_SWEEPER_SCHEDULE or config)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *schedule != "" {
		cfg.Sweeper.Schedule = *schedule
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "voxnote-sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger, "")
	if err != nil {
		logger.WithError(err).Error("Failed to initialize")
		os.Exit(1)
	}
	defer a.Close()

	scheduler := a.Scheduler(a.Sweeper())

	if *runOnce {
		resets, err := scheduler.RunOnce(ctx)
		if err != nil {
			logger.WithError(err).Error("Sweep failed")
			a.Close()
			os.Exit(1)
		}
		logger.WithField("resets", resets).Info("Sweep completed")
		return
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start scheduler")
		a.Close()
		os.Exit(1)
	}
	logger.WithField("schedule", cfg.Sweeper.Schedule).Info("Renewal sweeper started")

	<-ctx.Done()
	logger.Info("Shutting down renewal sweeper")
	<-scheduler.Stop().Done()
	logger.Info("Renewal sweeper stopped")
}
