package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/cart"
	"github.com/noah-isme/backend-lunch/internal/catalog"
	"github.com/noah-isme/backend-lunch/internal/checkout"
	"github.com/noah-isme/backend-lunch/internal/common"
	"github.com/noah-isme/backend-lunch/internal/config"
	"github.com/noah-isme/backend-lunch/internal/events"
	"github.com/noah-isme/backend-lunch/internal/health"
	"github.com/noah-isme/backend-lunch/internal/lock"
	"github.com/noah-isme/backend-lunch/internal/lunch"
	"github.com/noah-isme/backend-lunch/internal/notify"
	"github.com/noah-isme/backend-lunch/internal/obs"
	"github.com/noah-isme/backend-lunch/internal/order"
	"github.com/noah-isme/backend-lunch/internal/queue"
	"github.com/noah-isme/backend-lunch/internal/ratelimit"
	"github.com/noah-isme/backend-lunch/internal/resilience"
	"github.com/noah-isme/backend-lunch/internal/security"
	"github.com/noah-isme/backend-lunch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "lunch")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "lunch-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger, metricsEnabled)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	menu, err := loadMenu(cfg.MenuFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.MenuFile).Msg("load menu")
	}

	var notifiers notify.Multi
	notifiers = append(notifiers, notify.Logger{Log: logger.With().Str("component", "notify").Logger()})
	if redisClient != nil {
		notifiers = append(notifiers, notify.Publisher{R: redisClient, Channel: cfg.NotifyChannel, Log: logger})
	}

	var eventLog events.Log = &events.MemoryStore{}
	if redisClient != nil {
		eventLog = events.RedisStreamStore{R: redisClient, Stream: cfg.EventStream, MaxLen: 10000}
	}
	bus := &events.Bus{
		Store:     eventLog,
		Notifiers: []events.Notifier{notify.EventNotifier{Target: notifiers, TopicToggles: notify.TopicToggles(cfg.NotifyTopics)}},
	}

	cartStorage, err := newCartStorage(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise cart storage")
	}

	breaker := resilience.NewBreaker(cfg.CircuitKitchenMinReq, cfg.CircuitKitchenFailureRate, cfg.CircuitKitchenOpenFor).
		WithTarget("kitchen").
		WithLogger(logger)
	submitter := newSubmitter(cfg, redisClient, breaker, logger)

	cartConfig := cart.Config{
		Storage:   cartStorage,
		Notifier:  notifiers,
		Submitter: submitter,
		Events:    bus,
		Timeout:   cfg.CheckoutTimeout,
		Log:       logger.With().Str("component", "cart").Logger(),
	}
	if redisClient != nil {
		cartConfig.Shared = true
		cartConfig.Guard = lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff, Prefix: "lunch:lock:"}
	}
	carts := cart.NewManager(cartConfig)
	go carts.RunEviction(ctx, cfg.CartIdleTimeout, time.Minute, func(err error) {
		logger.Warn().Err(err).Msg("evict idle carts")
	})
	cartHandler := cart.NewHandler(cart.HandlerConfig{
		Carts:    carts,
		Catalog:  menu,
		Notifier: notifiers,
		Log:      logger,
	})
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Catalog: menu})

	var lunchStore lunch.Store = lunch.NewMemoryStore()
	if redisClient != nil {
		lunchStore = lunch.RedisStore{R: redisClient, TTL: cfg.LunchTTL}
	}
	lunchService := lunch.NewService(lunch.Config{
		Store:    lunchStore,
		Events:   bus,
		Location: cfg.Location(),
		Log:      logger.With().Str("component", "lunch").Logger(),
	})
	lunchHandler := lunch.NewHandler(lunchService, notifiers, logger)

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL, Prefix: "lunch:idem:"}

	limiter := newRateLimiter(cfg, redisClient, logger)
	rateLimit := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Key: ratelimit.ByUserOrIP, Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax, Skip: ratelimit.SkipPreflight},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", obs.UserHeader, common.IdempotencyHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(security.Headers{
		Enable:          envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS:      envBool("SECURE_HSTS_ENABLED", cfg.AppEnv == "production"),
		NoStorePrefixes: []string{"/api/v1/carts", "/api/v1/lunch"},
	}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		Checks: map[string]health.Check{
			"cart_storage": func(ctx context.Context) error {
				_, _, err := cartStorage.Get(ctx, cart.StorageKey("healthcheck"))
				return err
			},
		},
	}
	if redisClient != nil {
		healthHandler.Checker = readinessChecker{redis: redisClient}
	}
	if cfg.CheckoutMode == config.CheckoutHTTP {
		healthHandler.Checks["kitchen"] = breaker.Healthy
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(rateLimit.Middleware)
		catalogHandler.Routes(v)
		cartHandler.Routes(v, idem.Middleware)
		lunchHandler.Routes(v)
		events.Handler{Feed: eventLog}.Routes(v)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CheckoutTimeout+5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("checkout_mode", cfg.CheckoutMode).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := carts.FlushAll(flushCtx); err != nil {
		logger.Error().Err(err).Msg("flush carts")
	}
	logger.Info().Msg("server shutdown complete")
}

func initRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metricsEnabled bool) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set; carts, lunch trips and events stay in process memory")
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func loadMenu(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return catalog.Load(f)
}

func newRateLimiter(cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) ratelimit.Limiter {
	if redisClient == nil {
		return ratelimit.NewMemoryFixedWindow("lunch:ratelimit")
	}
	if cfg.RateLimitStrategy == config.RateLimitFixed {
		fixed, err := ratelimit.NewRedisFixedWindow(redisClient, "lunch:ratelimit")
		if err == nil {
			return fixed
		}
		logger.Error().Err(err).Msg("redis fixed window unavailable, using sliding window")
	}
	return ratelimit.SlidingWindow{Client: redisClient, Prefix: "lunch:ratelimit:"}
}

func newCartStorage(cfg *config.Config, redisClient *redis.Client) (storage.KV, error) {
	switch {
	case redisClient != nil:
		return storage.NewRedis(redisClient, cfg.CartTTL), nil
	case cfg.CartStorageDir != "":
		return storage.NewDir(cfg.CartStorageDir)
	default:
		return storage.NewMemory(), nil
	}
}

func newSubmitter(cfg *config.Config, redisClient *redis.Client, breaker *resilience.Breaker, logger zerolog.Logger) order.Submitter {
	log := logger.With().Str("component", "checkout").Logger()
	switch cfg.CheckoutMode {
	case config.CheckoutQueue:
		return checkout.QueueSubmitter{
			Queue: queue.Enqueuer{
				R:           redisClient,
				Prefix:      cfg.QueueRedisPrefix,
				DedupTTL:    cfg.IdempotencyTTL,
				MaxAttempts: cfg.QueueMaxAttempts,
			},
			MaxAttempts: cfg.QueueMaxAttempts,
			Log:         log,
		}
	case config.CheckoutHTTP:
		client := resilience.HTTPClient{
			Client:      checkout.NewKitchenClient(cfg.KitchenTimeout),
			Breaker:     breaker,
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      cfg.RetryJitterPercent,
			Timeout:     cfg.KitchenTimeout,
			Target:      "kitchen",
			Logger:      &log,
		}
		return checkout.Retrying{
			Next:     checkout.HTTPSubmitter{Endpoint: cfg.KitchenURL, Client: client, UserAgent: "lunch-api"},
			Attempts: cfg.CheckoutRetryAttempts,
			Base:     cfg.RetryBase,
			Jitter:   cfg.RetryJitterPercent,
			Log:      log,
		}
	default:
		return checkout.Simulated{Delay: cfg.CheckoutSimulatedDelay}
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
