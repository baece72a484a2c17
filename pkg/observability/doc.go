// Package observability provides structured logging, Prometheus metrics,
// health checks, graceful shutdown and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("quota consumed")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger.WithField("request_id", reqID))
//	observability.FromContext(ctx).Warn("provider slow")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordQuotaConsumed("upload")
//
// A nil *Metrics records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers)
//
//	ctx, span := observability.StartSpan(ctx, "ledger.TryConsume")
//	defer func() { observability.EndSpan(span, err) }()
package observability
