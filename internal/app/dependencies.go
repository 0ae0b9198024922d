package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/collab"
	"github.com/noah-isme/backend-erp/internal/common"
	"github.com/noah-isme/backend-erp/internal/config"
	"github.com/noah-isme/backend-erp/internal/draft"
	"github.com/noah-isme/backend-erp/internal/events"
	"github.com/noah-isme/backend-erp/internal/lock"
	"github.com/noah-isme/backend-erp/internal/obs"
	"github.com/noah-isme/backend-erp/internal/order"
	"github.com/noah-isme/backend-erp/internal/promotion"
	"github.com/noah-isme/backend-erp/internal/ratelimit"
	"github.com/noah-isme/backend-erp/internal/resilience"
	"github.com/noah-isme/backend-erp/internal/store"
	"github.com/noah-isme/backend-erp/internal/tax"
)

// Dependencies enumerates the shared clients every component is built from.
// DB is nil when documents are persisted through the order service.
type Dependencies struct {
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Logger zerolog.Logger
	// HTTP overrides the transport used for collaborator calls.
	HTTP *http.Client
}

// Components are the wired HTTP surfaces of the service.
type Components struct {
	Drafts      *draft.Handler
	Documents   *order.ReadHandler
	Idempotency common.Idem
	SubmitLimit ratelimit.Handler
	Bus         *events.Bus
}

// NewPool connects to Postgres with query tracing enabled.
func NewPool(ctx context.Context, databaseURL, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis connects to Redis and instruments the client. Instrumentation
// failures are logged, not fatal.
func NewRedis(ctx context.Context, redisURL string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Build wires drafts, collaborators, persistence and events from cfg.
func Build(cfg *config.Config, deps Dependencies) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if deps.Redis == nil {
		return nil, errors.New("app: redis client is required")
	}
	logger := deps.Logger

	b := collabBuilder{cfg: cfg, logger: logger, http: deps.HTTP}
	if b.http == nil {
		b.http = collab.HTTPClient(cfg.CollabTimeout)
	}

	bus := &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}}}
	if cfg.EventsWebhookURL != "" {
		bus.Notifiers = append(bus.Notifiers, events.WebhookNotifier{
			URL:    cfg.EventsWebhookURL,
			Secret: cfg.EventsWebhookSecret,
			Topics: cfg.EventsWebhookTopics,
			Client: b.resilient("events-webhook"),
		})
	}

	components := &Components{
		Idempotency: common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		Bus:         bus,
	}

	var persister order.Persister
	switch cfg.PersistenceProvider {
	case config.PersistenceProviderHTTP:
		persister = collab.Orders{Client: b.client("orders", cfg.OrderServiceURL)}
		bus.Store = events.RedisStreamStore{R: deps.Redis, Stream: cfg.EventsStream, MaxLen: 10000}
	default:
		if deps.DB == nil {
			return nil, errors.New("app: database pool is required for postgres persistence")
		}
		pg := &store.Postgres{DB: deps.DB}
		persister = pg
		bus.Store = store.EventStore{DB: deps.DB}
		components.Documents = &order.ReadHandler{Reader: pg, DefaultPerPage: 20, MaxPerPage: 100}
	}

	var calculator tax.Calculator
	switch cfg.TaxProvider {
	case config.TaxProviderHTTP:
		calculator = collab.Tax{Client: b.client("tax", cfg.TaxServiceURL)}
	default:
		calculator = tax.RateCalculator{
			RateBps: cfg.TaxRateBps,
			Type:    adjustment.Type(cfg.TaxAdjustmentType),
			Places:  cfg.TaxRoundPlaces,
		}
	}

	var catalog promotion.Catalog
	var handlers []promotion.ActionHandler
	if cfg.PromotionServiceURL != "" {
		client := b.client("promotions", cfg.PromotionServiceURL)
		catalog = collab.Catalog{Client: client}
		handlers = append(handlers, promotion.ProductDiscountHandler{Pricing: collab.Pricing{Client: client}})
	} else {
		logger.Warn().Msg("PROMOTION_SERVICE_URL not set; items carrying promotions will be rejected")
	}

	service := &draft.Service{
		Repo:       draft.NewStore(deps.Redis, cfg.DraftTTL),
		Locker:     lock.Locker{R: deps.Redis, WaitTimeout: cfg.DraftLockWait},
		LockTTL:    cfg.DraftLockTTL,
		Promotions: promotion.NewApplicator(catalog, logger, handlers...),
		Taxes:      &tax.Refresher{Calculator: calculator, Provider: cfg.TaxProvider, Logger: logger},
		Submitter:  &order.Workflow{Persister: persister, Events: bus, Logger: logger},
		Events:     bus,
		Logger:     logger,
	}
	components.Drafts = draft.NewHandler(draft.HandlerConfig{Service: service})

	limiter, err := ratelimit.New(cfg.SubmitRateLimit, deps.Redis, "erp:ratelimit")
	if err != nil {
		return nil, fmt.Errorf("app: submit rate limit: %w", err)
	}
	components.SubmitLimit = ratelimit.Handler{
		Limiter: limiter,
		Key:     ratelimit.SubmitKey,
		OnError: func(err error) { logger.Warn().Err(err).Msg("submit rate limiter unavailable") },
	}
	return components, nil
}

type collabBuilder struct {
	cfg    *config.Config
	logger zerolog.Logger
	http   *http.Client
}

func (b collabBuilder) resilient(target string) resilience.HTTPClient {
	breaker := resilience.NewBreaker(b.cfg.BreakerMinRequests, b.cfg.BreakerFailureRatio, b.cfg.BreakerOpenFor).
		WithTarget(target).
		WithLogger(b.logger)
	return resilience.HTTPClient{
		Client:      b.http,
		Breaker:     breaker,
		BaseBackoff: b.cfg.CollabBackoff,
		MaxAttempts: b.cfg.CollabMaxAttempts,
		Jitter:      0.2,
		Timeout:     b.cfg.CollabTimeout,
	}
}

func (b collabBuilder) client(name, baseURL string) collab.Client {
	return collab.Client{Name: name, BaseURL: baseURL, HTTP: b.resilient(name)}
}

// Shutdown closes deps within timeout.
func (d Dependencies) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if d.Redis != nil {
			if err := d.Redis.Close(); err != nil {
				d.Logger.Error().Err(err).Msg("close redis")
			}
		}
		if d.DB != nil {
			d.DB.Close()
		}
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		d.Logger.Warn().Dur("timeout", timeout).Msg("dependency shutdown timed out")
	}
}
