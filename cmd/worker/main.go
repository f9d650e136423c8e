package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/checkout"
	"github.com/noah-isme/backend-lunch/internal/config"
	"github.com/noah-isme/backend-lunch/internal/health"
	"github.com/noah-isme/backend-lunch/internal/lock"
	"github.com/noah-isme/backend-lunch/internal/obs"
	"github.com/noah-isme/backend-lunch/internal/order"
	"github.com/noah-isme/backend-lunch/internal/queue"
	"github.com/noah-isme/backend-lunch/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "lunch"), nil)

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the order worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	taskQueue := queue.Enqueuer{R: redisClient, Prefix: cfg.QueueRedisPrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.QueueMaxAttempts}
	dlqStore := queue.NewStore(redisClient, cfg.QueueRedisPrefix)

	var kitchen order.Submitter = checkout.LogSubmitter{Log: logger}
	var breaker *resilience.Breaker
	if cfg.KitchenURL != "" {
		breaker = resilience.NewBreaker(cfg.CircuitKitchenMinReq, cfg.CircuitKitchenFailureRate, cfg.CircuitKitchenOpenFor).
			WithTarget("kitchen").
			WithLogger(logger)
		kitchen = checkout.HTTPSubmitter{
			Endpoint:  cfg.KitchenURL,
			UserAgent: "lunch-worker",
			Client: resilience.HTTPClient{
				Client:      checkout.NewKitchenClient(cfg.KitchenTimeout),
				Breaker:     breaker,
				BaseBackoff: cfg.RetryBase,
				MaxAttempts: cfg.RetryMaxAttempts,
				Jitter:      cfg.RetryJitterPercent,
				Timeout:     cfg.KitchenTimeout,
				Target:      "kitchen",
				Logger:      &logger,
			},
		}
	} else {
		logger.Warn().Msg("KITCHEN_URL not set; queued orders are logged only")
	}

	forwarder := checkout.Forwarder{
		Kitchen: kitchen,
		Locker:  &lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff, Prefix: "lunch:"},
		LockTTL: cfg.LockTTL,
		Log:     logger,
	}

	orderWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              checkout.TaskKind,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		RetryBase:         cfg.QueueBackoffBase,
		RetryJitter:       cfg.QueueBackoffJitter,
		Store:             dlqStore,
		SoftDeadline:      cfg.WorkerJobSoftDeadline,
		Logger:            &logger,
		Retryable:         checkout.Retryable,
		Handler:           forwarder.Handle,
	}

	ops := newOpsServer(cfg, redisClient, breaker, &queue.AdminHandler{
		Store:             dlqStore,
		Queue:             taskQueue,
		Logger:            logger,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	})
	go func() {
		logger.Info().Str("addr", ops.Addr).Msg("ops server starting")
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := queue.RefreshDLQMetrics(ctx, dlqStore); err != nil {
					logger.Warn().Err(err).Msg("refresh dlq metrics")
				}
			}
		}
	}()

	logger.Info().Str("kind", checkout.TaskKind).Int("concurrency", cfg.QueueConcurrency).Msg("worker starting")
	if err := orderWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ops.Shutdown(shutdownCtx)
}

func newOpsServer(cfg *config.Config, redisClient *redis.Client, breaker *resilience.Breaker, admin *queue.AdminHandler) *http.Server {
	healthHandler := health.Handler{
		Checker:      readinessChecker{redis: redisClient},
		RedisTimeout: 300 * time.Millisecond,
	}
	if breaker != nil {
		healthHandler.Checks = map[string]health.Check{
			"kitchen": breaker.Healthy,
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Route("/admin/queue", admin.Routes)

	return &http.Server{
		Addr:              cfg.WorkerOpsAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
