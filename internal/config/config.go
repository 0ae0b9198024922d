package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Provider names accepted by TAX_PROVIDER and PERSISTENCE_PROVIDER.
const (
	TaxProviderRate             = "rate"
	TaxProviderHTTP             = "http"
	PersistenceProviderPostgres = "postgres"
	PersistenceProviderHTTP     = "http"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	DraftTTL        time.Duration
	DraftLockTTL    time.Duration
	DraftLockWait   time.Duration
	IdempotencyTTL  time.Duration
	SubmitRateLimit string

	PromotionServiceURL string
	TaxProvider         string
	TaxServiceURL       string
	TaxRateBps          int64
	TaxAdjustmentType   string
	TaxRoundPlaces      int32
	PersistenceProvider string
	OrderServiceURL     string

	CollabTimeout       time.Duration
	CollabMaxAttempts   int
	CollabBackoff       time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	EventsStream        string
	EventsWebhookURL    string
	EventsWebhookSecret string
	EventsWebhookTopics []string
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
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),

		DraftTTL:        parseDuration(k.String("DRAFT_TTL"), "24h"),
		DraftLockTTL:    parseDuration(k.String("DRAFT_LOCK_TTL"), "10s"),
		DraftLockWait:   parseDuration(k.String("DRAFT_LOCK_WAIT"), "2s"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		SubmitRateLimit: valueOrDefault(k.String("SUBMIT_RATE_LIMIT"), "60-M"),

		PromotionServiceURL: strings.TrimSpace(k.String("PROMOTION_SERVICE_URL")),
		TaxProvider:         strings.ToLower(valueOrDefault(k.String("TAX_PROVIDER"), TaxProviderRate)),
		TaxServiceURL:       strings.TrimSpace(k.String("TAX_SERVICE_URL")),
		TaxRateBps:          parseInt64(k.String("TAX_RATE_BPS"), 1100),
		TaxAdjustmentType:   strings.ToUpper(valueOrDefault(k.String("TAX_ADJUSTMENT_TYPE"), "SALES_TAX")),
		TaxRoundPlaces:      int32(parseInt64(k.String("TAX_ROUND_PLACES"), 2)),
		PersistenceProvider: strings.ToLower(valueOrDefault(k.String("PERSISTENCE_PROVIDER"), PersistenceProviderPostgres)),
		OrderServiceURL:     strings.TrimSpace(k.String("ORDER_SERVICE_URL")),

		CollabTimeout:       parseDuration(k.String("COLLAB_TIMEOUT"), "5s"),
		CollabMaxAttempts:   int(parseInt64(k.String("COLLAB_MAX_ATTEMPTS"), 3)),
		CollabBackoff:       parseDuration(k.String("COLLAB_BACKOFF"), "200ms"),
		BreakerMinRequests:  int(parseInt64(k.String("BREAKER_MIN_REQUESTS"), 5)),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		EventsStream:        valueOrDefault(k.String("EVENTS_STREAM"), "erp:events"),
		EventsWebhookURL:    strings.TrimSpace(k.String("EVENTS_WEBHOOK_URL")),
		EventsWebhookSecret: k.String("EVENTS_WEBHOOK_SECRET"),
		EventsWebhookTopics: splitAndTrim(k.String("EVENTS_WEBHOOK_TOPICS")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	switch c.PersistenceProvider {
	case PersistenceProviderPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when PERSISTENCE_PROVIDER=postgres")
		}
	case PersistenceProviderHTTP:
		if c.OrderServiceURL == "" {
			return errors.New("ORDER_SERVICE_URL is required when PERSISTENCE_PROVIDER=http")
		}
	default:
		return fmt.Errorf("unsupported PERSISTENCE_PROVIDER %q", c.PersistenceProvider)
	}
	switch c.TaxProvider {
	case TaxProviderRate:
		if c.TaxRateBps < 0 {
			return errors.New("TAX_RATE_BPS must not be negative")
		}
	case TaxProviderHTTP:
		if c.TaxServiceURL == "" {
			return errors.New("TAX_SERVICE_URL is required when TAX_PROVIDER=http")
		}
	default:
		return fmt.Errorf("unsupported TAX_PROVIDER %q", c.TaxProvider)
	}
	if c.TaxAdjustmentType != "SALES_TAX" && c.TaxAdjustmentType != "VAT_TAX" {
		return fmt.Errorf("unsupported TAX_ADJUSTMENT_TYPE %q", c.TaxAdjustmentType)
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
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

func parseInt64(value string, fallback int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
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
