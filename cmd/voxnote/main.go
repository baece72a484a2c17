package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/voxnote/pkg/app"
	"github.com/platinummonkey/voxnote/pkg/async"
	"github.com/platinummonkey/voxnote/pkg/config"
	"github.com/platinummonkey/voxnote/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "voxnote").
		WithField("version", version)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("voxnote exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	otelCfg := cfg.Observability.OTel()
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = version
	}
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a, err := app.Open(ctx, cfg, logger, version)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := a.Handler(ctx)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Sweeper.Enabled {
		scheduler := a.Scheduler(a.Sweeper())
		if err := scheduler.Start(gctx); err != nil {
			return fmt.Errorf("failed to start renewal sweeper: %w", err)
		}
		// Catch up on resets missed while no replica was running
		async.SafeGo(gctx, logger, cfg.Sweeper.RunTimeout, "startup sweep", func(ctx context.Context) error {
			_, err := scheduler.RunOnce(ctx)
			return err
		})
		shutdown.RegisterShutdownFunc("sweeper", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	g.Go(func() error {
		logger.Infof("voxnote listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	err = g.Wait()
	logger.Info("voxnote stopped")
	return err
}
