package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Checkout submission modes.
const (
	CheckoutSimulated = "simulated"
	CheckoutQueue     = "queue"
	CheckoutHTTP      = "http"
)

// Rate limit strategies. Sliding needs Redis; without Redis the API always
// falls back to an in-process fixed window.
const (
	RateLimitSliding = "sliding"
	RateLimitFixed   = "fixed"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	CartStorageDir  string
	CartTTL         time.Duration
	CartIdleTimeout time.Duration
	MenuFile        string

	CheckoutMode           string
	CheckoutTimeout        time.Duration
	CheckoutSimulatedDelay time.Duration
	CheckoutRetryAttempts  int

	KitchenURL     string
	KitchenTimeout time.Duration

	RetryBase          time.Duration
	RetryMaxAttempts   int
	RetryJitterPercent float64

	CircuitKitchenMinReq      int
	CircuitKitchenFailureRate float64
	CircuitKitchenOpenFor     time.Duration

	IdempotencyTTL   time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	QueueRedisPrefix       string
	QueueMaxAttempts       int
	QueueVisibilityTimeout time.Duration
	QueueBackoffBase       time.Duration
	QueueBackoffJitter     float64
	QueueConcurrency       int
	WorkerJobSoftDeadline  time.Duration
	WorkerOpsPort          string

	RateLimitWindow   time.Duration
	RateLimitMax      int
	RateLimitStrategy string
	BodyLimitBytes  int64

	LunchTimezone string
	LunchTTL      time.Duration

	NotifyChannel string
	NotifyTopics  []string
	EventStream   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CartStorageDir:  strings.TrimSpace(k.String("CART_STORAGE_DIR")),
		CartTTL:         parseDuration(k.String("CART_TTL"), "0s"),
		CartIdleTimeout: parseDuration(k.String("CART_IDLE_TIMEOUT"), "30m"),
		MenuFile:        strings.TrimSpace(k.String("MENU_FILE")),

		CheckoutMode:           strings.ToLower(valueOrDefault(k.String("CHECKOUT_MODE"), CheckoutSimulated)),
		CheckoutTimeout:        parseDuration(k.String("CHECKOUT_TIMEOUT"), "10s"),
		CheckoutSimulatedDelay: parseDuration(k.String("CHECKOUT_SIMULATED_DELAY"), "1s"),
		CheckoutRetryAttempts:  parseInt(k.String("CHECKOUT_RETRY_ATTEMPTS"), 3),

		KitchenURL:     strings.TrimSpace(k.String("KITCHEN_URL")),
		KitchenTimeout: parseDuration(k.String("KITCHEN_TIMEOUT"), "5s"),

		RetryBase:          parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:   parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent: parsePercent(k.String("RETRY_JITTER_PERCENT"), 20),

		CircuitKitchenMinReq:      parseInt(k.String("CIRCUIT_KITCHEN_MIN_REQ"), 10),
		CircuitKitchenFailureRate: parseFloat(k.String("CIRCUIT_KITCHEN_FAILURE_RATE"), 0.5),
		CircuitKitchenOpenFor:     parseDuration(k.String("CIRCUIT_KITCHEN_OPEN_FOR"), "30s"),

		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		QueueRedisPrefix:       valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "lunch"),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 10),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueBackoffBase:       parseDuration(k.String("QUEUE_BACKOFF_BASE"), "1s"),
		QueueBackoffJitter:     parsePercent(k.String("QUEUE_BACKOFF_JITTER_PERCENT"), 20),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		WorkerJobSoftDeadline:  parseDuration(k.String("WORKER_JOB_SOFT_DEADLINE"), "20s"),
		WorkerOpsPort:          valueOrDefault(k.String("WORKER_OPS_PORT"), "9091"),

		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 120),
		RateLimitStrategy: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), RateLimitSliding)),
		BodyLimitBytes:    int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),

		LunchTimezone: valueOrDefault(k.String("LUNCH_TIMEZONE"), "Europe/Brussels"),
		LunchTTL:      parseDuration(k.String("LUNCH_TTL"), "48h"),

		NotifyChannel: valueOrDefault(k.String("NOTIFY_CHANNEL"), "lunch:notifications"),
		NotifyTopics:  splitAndTrim(k.String("NOTIFY_TOPICS")),
		EventStream:   valueOrDefault(k.String("EVENT_STREAM"), "lunch:events"),
	}

	switch cfg.CheckoutMode {
	case CheckoutSimulated:
	case CheckoutQueue:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when CHECKOUT_MODE=queue")
		}
	case CheckoutHTTP:
		if cfg.KitchenURL == "" {
			return nil, errors.New("KITCHEN_URL is required when CHECKOUT_MODE=http")
		}
	default:
		return nil, fmt.Errorf("unknown CHECKOUT_MODE %q", cfg.CheckoutMode)
	}
	if cfg.RateLimitStrategy != RateLimitSliding && cfg.RateLimitStrategy != RateLimitFixed {
		return nil, fmt.Errorf("unknown RATE_LIMIT_STRATEGY %q", cfg.RateLimitStrategy)
	}
	if cfg.CheckoutTimeout <= 0 {
		return nil, errors.New("CHECKOUT_TIMEOUT must be positive")
	}
	if _, err := time.LoadLocation(cfg.LunchTimezone); err != nil {
		return nil, fmt.Errorf("LUNCH_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	return listenAddr(c.Port, "8080")
}

// WorkerOpsAddr returns the address of the worker admin and metrics server.
func (c *Config) WorkerOpsAddr() string {
	return listenAddr(c.WorkerOpsPort, "9091")
}

// Location returns the time zone that decides which lunch trips belong to today.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.LunchTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func listenAddr(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = fallback
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// parsePercent reads a whole percentage and returns it as a fraction.
func parsePercent(value string, fallback int) float64 {
	pct := parseInt(value, fallback)
	if pct < 0 {
		pct = 0
	}
	return float64(pct) / 100
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
