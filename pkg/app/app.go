// Package app assembles voxnote's services from configuration. Both the API
// server and the standalone sweeper build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/voxnote/pkg/accounts"
	"github.com/platinummonkey/voxnote/pkg/api"
	"github.com/platinummonkey/voxnote/pkg/audio"
	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/billing"
	"github.com/platinummonkey/voxnote/pkg/config"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/middleware"
	"github.com/platinummonkey/voxnote/pkg/notes"
	"github.com/platinummonkey/voxnote/pkg/observability"
	"github.com/platinummonkey/voxnote/pkg/plans"
	"github.com/platinummonkey/voxnote/pkg/reconcile"
	"github.com/platinummonkey/voxnote/pkg/storage"
	"github.com/platinummonkey/voxnote/pkg/storage/kv"
	"github.com/platinummonkey/voxnote/pkg/storage/postgres"
	"github.com/platinummonkey/voxnote/pkg/sweeper"
	"github.com/platinummonkey/voxnote/pkg/transcription"
	"github.com/platinummonkey/voxnote/pkg/usage"
)

// catalogTTL is how long the plan catalog is cached between reloads
const catalogTTL = 5 * time.Minute

// memoryDedupSize bounds the in-process webhook dedup set used without Redis
const memoryDedupSize = 10_000

// App holds the shared infrastructure: database, optional Redis, metrics and
// the plan catalog and ledger every component uses
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Version  string
	DB       *sql.DB
	Redis    *kv.RedisClient
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Catalog  *plans.Catalog
	Ledger   *ledger.Ledger
}

// Open connects to Postgres and, when configured, Redis, applies migrations,
// seeds the plan catalog and builds the ledger
func Open(ctx context.Context, cfg *config.Config, logger *observability.Logger, version string) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Version: version}

	if cfg.Observability.MetricsEnabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = observability.NewMetrics(a.Registry)
	}

	db, err := postgres.Open(ctx, ConnectionConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	logger.Info("Connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	seed, err := planSeed(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := plans.Seed(ctx, db, seed); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to seed plans: %w", err)
	}

	if cfg.Redis.URL != "" {
		rc, err := kv.NewRedisClient(ctx, kv.Config{URL: cfg.Redis.URL})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rc
		logger.Info("Connected to Redis")
	} else {
		logger.Warn("Redis not configured; webhook dedup and rate limits are per process, sweeps are not coordinated")
	}

	a.Catalog = plans.NewCatalog(db, catalogTTL)
	a.Ledger = ledger.New(db, a.Catalog, ledger.WithLogger(logger), ledger.WithMetrics(a.Metrics))
	return a, nil
}

// Close releases the database and Redis connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// Sweeper builds the renewal sweeper over the ledger
func (a *App) Sweeper() *sweeper.Sweeper {
	return sweeper.New(a.Ledger, SweeperConfig(a.Config),
		sweeper.WithLogger(a.Logger.WithField("component", "sweeper")),
		sweeper.WithMetrics(a.Metrics))
}

// Scheduler builds the cron scheduler for the sweeper. Replicas coordinate
// through a Redis lock when Redis is configured.
func (a *App) Scheduler(sw sweeper.Sweep) *sweeper.CronScheduler {
	opts := []sweeper.SchedulerOption{
		sweeper.WithRunTimeout(a.Config.Sweeper.RunTimeout),
		sweeper.WithSchedulerLogger(a.Logger.WithField("component", "sweeper")),
	}
	if a.Redis != nil {
		opts = append(opts, sweeper.WithLocker(a.Redis, a.Config.Sweeper.LockTTL))
	}
	return sweeper.NewCronScheduler(a.Config.Sweeper.Schedule, sw, opts...)
}

// Handler builds every request-path service and returns the instrumented
// HTTP handler
func (a *App) Handler(ctx context.Context) (http.Handler, error) {
	cfg := a.Config

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	artifacts, err := storage.New(ctx, StorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	accountOpts := []accounts.Option{
		accounts.WithBcryptCost(cfg.Auth.BcryptCost),
		accounts.WithLogger(a.Logger.WithField("component", "accounts")),
	}

	var provider billing.Provider
	if cfg.BillingEnabled() {
		provider = billing.NewStripeProvider(cfg.Billing.StripeSecretKey, cfg.Billing.StripeWebhookSecret)
		accountOpts = append(accountOpts, accounts.WithBilling(provider))
	} else {
		a.Logger.Warn("Stripe credentials not configured; payment routes disabled")
	}
	accountService := accounts.NewService(a.DB, a.Ledger, a.Catalog, tokens, accountOpts...)

	noteStore := notes.NewStore(a.DB)
	gate := usage.NewGate(
		a.Ledger,
		noteStore,
		artifacts,
		audio.NewFFprobeInspector(cfg.Audio.FFprobePath, a.Logger),
		transcription.NewClient(TranscriptionConfig(cfg), transcription.WithMetrics(a.Metrics)),
		usage.Config{RefundOnFailure: cfg.Usage.RefundOnFailure},
		usage.WithLogger(a.Logger.WithField("component", "usage")),
		usage.WithMetrics(a.Metrics),
	)

	deps := api.Dependencies{
		Accounts:     accountService,
		Plans:        a.Catalog,
		Notes:        noteStore,
		Gate:         gate,
		Entitlements: a.Ledger,
		Tokens:       tokens,
		AuthLimiter:  a.limiter("auth", cfg.Server.AuthRateLimit),
		APILimiter:   a.limiter("api", cfg.Server.APIRateLimit),
		Metrics:      a.Metrics,
		Registry:     a.Registry,
		Logger:       a.Logger,
	}
	if provider != nil {
		deps.Billing = provider
		deps.Reconciler = reconcile.New(provider, a.Ledger, a.Catalog, accountService,
			reconcile.WithDeduper(a.deduper()),
			reconcile.WithLogger(a.Logger.WithField("component", "reconcile")),
			reconcile.WithMetrics(a.Metrics))
	}

	deps.Health = observability.NewHealthChecker(a.DB, a.redisClient(), a.Version)

	server := api.NewServer(api.Config{
		ClientURL:      cfg.Server.ClientURL,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Audio.MaxUploadBytes,
	}, deps)

	if cfg.Observability.OTelEnabled {
		return otelhttp.NewHandler(server, "voxnote"), nil
	}
	return server, nil
}

func (a *App) deduper() reconcile.Deduper {
	if a.Redis != nil {
		return reconcile.NewRedisDeduper(a.Redis, a.Config.Redis.WebhookDedupTTL)
	}
	return reconcile.NewMemoryDeduper(memoryDedupSize, a.Config.Redis.WebhookDedupTTL)
}

// limiter returns a per-minute limiter shared through Redis when available.
// perMinute <= 0 disables limiting.
func (a *App) limiter(name string, perMinute int) middleware.Limiter {
	if perMinute <= 0 {
		return nil
	}
	if a.Redis != nil {
		return middleware.NewDistributedRateLimiter(a.Redis.Client(), middleware.PerMinute(perMinute), "voxnote:ratelimit:"+name)
	}
	return middleware.NewRateLimiter(middleware.PerMinute(perMinute))
}

func (a *App) redisClient() *redis.Client {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Client()
}

// planSeed returns the seed file's plans when one is configured, otherwise
// the built-in catalog with the configured price ids
func planSeed(cfg *config.Config) ([]plans.SeedPlan, error) {
	if cfg.Database.PlanSeedFile != "" {
		return plans.LoadSeedFile(cfg.Database.PlanSeedFile)
	}
	return plans.DefaultPlans(cfg.Billing.PriceIDs), nil
}

// ConnectionConfig maps database settings to the pool configuration
func ConnectionConfig(cfg *config.Config) postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		Timeout:     cfg.Database.ConnectTimeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

// StorageConfig maps audio settings to the artifact store configuration
func StorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Type:           cfg.Audio.ArtifactBackend,
		FilesystemRoot: cfg.Audio.UploadDir,
		S3Endpoint:     cfg.Audio.S3Endpoint,
		S3Region:       cfg.Audio.S3Region,
		S3Bucket:       cfg.Audio.S3Bucket,
		S3AccessKey:    cfg.Audio.S3AccessKey,
		S3SecretKey:    cfg.Audio.S3SecretKey,
		S3UsePathStyle: cfg.Audio.S3UsePathStyle,
	}
}

// SweeperConfig maps sweeper settings
func SweeperConfig(cfg *config.Config) sweeper.Config {
	return sweeper.Config{
		Workers:           cfg.Sweeper.Workers,
		RowTimeout:        cfg.Sweeper.RowTimeout,
		BatchSize:         cfg.Sweeper.BatchSize,
		MaxCatchUpPeriods: cfg.Sweeper.MaxCatchUpPeriods,
	}
}

// TranscriptionConfig maps provider settings
func TranscriptionConfig(cfg *config.Config) transcription.Config {
	return transcription.Config{
		BaseURL:            cfg.Transcription.BaseURL,
		APIKey:             cfg.Transcription.APIKey,
		TranscriptionModel: cfg.Transcription.TranscriptionModel,
		CompletionModel:    cfg.Transcription.CompletionModel,
		Timeout:            cfg.Transcription.Timeout,
		RequestsPerSecond:  cfg.Transcription.RequestsPerSecond,
	}
}
