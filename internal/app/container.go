package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	billingCommands "github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	billingQueries "github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	billingWorkers "github.com/felixgeelhaar/cadence/internal/billing/application/workers"
	billingDomain "github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalogApp "github.com/felixgeelhaar/cadence/internal/catalog/application"
	paymentsApp "github.com/felixgeelhaar/cadence/internal/payments/application"
	payments "github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/generic"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/sandbox"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/stripe"
	reconciliationApp "github.com/felixgeelhaar/cadence/internal/reconciliation/application"
	reconciliationDomain "github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/felixgeelhaar/cadence/internal/reconciliation/infrastructure/dedup"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/cadence/pkg/config"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  sharedDomain.Clock

	// Database
	DBConn   database.Connection
	DBDriver database.Driver

	// Redis
	RedisClient *redis.Client

	Repositories *Repositories

	// Observability
	Metrics *observability.PrometheusMetrics
	Health  *observability.HealthRegistry

	// Payments
	Gateway   *paymentsApp.ResilientGateway
	Providers []payments.Provider

	// Catalog
	Catalog *catalogApp.Service

	// Billing command handlers
	Mutator                   *billingCommands.Mutator
	CreateSubscriptionHandler *billingCommands.CreateSubscriptionHandler
	ApplyCommandHandler       *billingCommands.ApplyCommandHandler
	RecordUsageHandler        *billingCommands.RecordUsageHandler
	ChangePlanHandler         *billingCommands.ChangePlanHandler
	AttachGatewayHandler      *billingCommands.AttachGatewayHandler

	// Billing query handlers
	GetSubscriptionHandler    *billingQueries.GetSubscriptionHandler
	ListSubscriptionsHandler  *billingQueries.ListSubscriptionsHandler
	GetUsageHandler           *billingQueries.GetUsageHandler
	EstimatePlanChangeHandler *billingQueries.EstimatePlanChangeHandler

	// Reconciliation
	Dedup      reconciliationDomain.DedupWindow
	Reconciler *reconciliationApp.Reconciler

	// Workers
	Sweeper         *billingWorkers.LifecycleSweeper
	EventPublisher  eventbus.Publisher
	OutboxProcessor *outbox.Processor

	innerGateway payments.Gateway
}

// Option adjusts a container before it is wired.
type Option func(*Container)

// WithClock replaces the wall clock.
func WithClock(clock sharedDomain.Clock) Option {
	return func(c *Container) { c.Clock = clock }
}

// WithRepositories skips the database and uses repos instead.
func WithRepositories(repos *Repositories) Option {
	return func(c *Container) { c.Repositories = repos }
}

// WithGateway replaces the payment gateway behind the resilience wrapper.
func WithGateway(gateway payments.Gateway) Option {
	return func(c *Container) { c.innerGateway = gateway }
}

// NewContainer connects to the configured backends and wires every service.
// Redis and RabbitMQ are optional outside production.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Clock:   sharedDomain.SystemClock{},
		Metrics: observability.NewPrometheusMetrics(prometheus.NewRegistry()),
		Health:  observability.NewHealthRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.Repositories == nil {
		if err := c.connectDatabase(ctx); err != nil {
			return nil, err
		}
	}

	if err := c.connectRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.connectBroker(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.wire(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) connectDatabase(ctx context.Context) error {
	cfg := c.Config
	driver := database.Driver(cfg.DatabaseDriver)
	if driver == database.DriverSQLite && cfg.SQLitePath != ":memory:" {
		if err := database.EnsureDirectory(cfg.SQLitePath); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     driver,
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	c.Logger.Info("running migrations", "driver", conn.Driver())
	if err := migrations.Run(ctx, conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	repos, err := NewRepositoryFactory(conn).Build()
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.DBConn = conn
	c.DBDriver = conn.Driver()
	c.Repositories = repos
	c.Health.Register("database", observability.PingChecker("database", observability.HealthStatusUnhealthy, conn.Ping))
	c.Logger.Info("connected to database", "driver", c.DBDriver)
	return nil
}

func (c *Container) connectRedis(ctx context.Context) error {
	cfg := c.Config
	if cfg.RedisURL == "" {
		return nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		c.Logger.Warn("invalid Redis URL, webhook dedup will stay in process", "error", err)
		return nil
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if cfg.IsProduction() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, webhook dedup will stay in process", "error", err)
		return nil
	}

	c.RedisClient = client
	c.Health.Register("redis", observability.PingChecker("redis", observability.HealthStatusDegraded,
		func(ctx context.Context) error { return client.Ping(ctx).Err() }))
	c.Logger.Info("connected to Redis")
	return nil
}

func (c *Container) connectBroker() error {
	cfg := c.Config
	if cfg.RabbitMQURL == "" {
		c.EventPublisher = eventbus.NewNoopPublisher(c.Logger)
		return nil
	}

	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, c.Logger)
	if err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		c.Logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
		c.EventPublisher = eventbus.NewNoopPublisher(c.Logger)
		return nil
	}

	c.EventPublisher = publisher
	c.Health.Register("rabbitmq", observability.PingChecker("rabbitmq", observability.HealthStatusDegraded, publisher.Healthy))
	return nil
}

func (c *Container) wire() error {
	cfg := c.Config
	repos := c.Repositories
	policy := billingDomain.Policy{DunningThreshold: cfg.DunningThreshold, DunningRetryInterval: cfg.DunningRetryInterval}

	inner := c.innerGateway
	switch {
	case inner != nil:
	case cfg.StripeAPIKey != "":
		inner = stripe.NewClient(cfg.StripeAPIKey)
	case cfg.IsProduction():
		return fmt.Errorf("STRIPE_API_KEY is required in production")
	default:
		c.Logger.Warn("no STRIPE_API_KEY set, charging the in-process sandbox")
		inner = sandbox.NewGateway()
	}
	c.Gateway = paymentsApp.NewResilientGateway(inner, paymentsApp.Config{
		Timeout:         cfg.GatewayTimeout,
		MaxAttempts:     cfg.GatewayMaxAttempts,
		BreakerFailures: uint32(max(cfg.GatewayBreakerFailures, 0)),
		BreakerTimeout:  cfg.GatewayBreakerTimeout,
	}, c.Logger, c.Metrics)

	if cfg.StripeWebhookSecret != "" {
		c.Providers = append(c.Providers, stripe.NewProvider(cfg.StripeWebhookSecret))
	}
	if cfg.GenericWebhookSecret != "" {
		c.Providers = append(c.Providers, generic.NewProvider(cfg.GenericWebhookSecret))
	}

	if cfg.UsesRedisDedup() && c.RedisClient != nil {
		c.Dedup = dedup.NewRedisWindow(c.RedisClient, "cadence:webhook:", cfg.DedupWindow, cfg.DedupInflightTTL)
	} else {
		window, err := dedup.NewLRUWindow(cfg.DedupCapacity, cfg.DedupWindow, cfg.DedupInflightTTL, c.Clock)
		if err != nil {
			return fmt.Errorf("failed to create dedup window: %w", err)
		}
		c.Dedup = window
	}

	c.Catalog = catalogApp.NewService(repos.Plans, c.Clock, c.Logger)

	c.Mutator = billingCommands.NewMutator(repos.Subscriptions, repos.Outbox, repos.UnitOfWork,
		billingCommands.WithClock(c.Clock),
		billingCommands.WithStaleWriteRetries(cfg.StaleWriteMaxRetries),
		billingCommands.WithLogger(c.Logger),
		billingCommands.WithMetrics(c.Metrics),
	)
	c.CreateSubscriptionHandler = billingCommands.NewCreateSubscriptionHandler(c.Mutator, c.Catalog)
	c.ApplyCommandHandler = billingCommands.NewApplyCommandHandler(c.Mutator, policy)
	c.RecordUsageHandler = billingCommands.NewRecordUsageHandler(c.Mutator, c.Catalog)
	c.ChangePlanHandler = billingCommands.NewChangePlanHandler(c.Mutator, c.Catalog, c.Gateway, policy)
	c.AttachGatewayHandler = billingCommands.NewAttachGatewayHandler(c.Mutator)

	c.GetSubscriptionHandler = billingQueries.NewGetSubscriptionHandler(repos.Subscriptions, c.Catalog)
	c.ListSubscriptionsHandler = billingQueries.NewListSubscriptionsHandler(repos.Subscriptions)
	c.GetUsageHandler = billingQueries.NewGetUsageHandler(repos.Subscriptions, c.Catalog)
	c.EstimatePlanChangeHandler = billingQueries.NewEstimatePlanChangeHandler(repos.Subscriptions, c.Catalog, c.Clock)

	c.Reconciler = reconciliationApp.NewReconciler(
		c.Providers, repos.Subscriptions, c.ApplyCommandHandler, c.Dedup, repos.Failures,
		c.Clock, c.Logger, c.Metrics,
	)

	c.Sweeper = billingWorkers.NewLifecycleSweeper(
		repos.Subscriptions, c.ApplyCommandHandler, c.Catalog, c.Gateway, c.Clock,
		billingWorkers.LifecycleSweeperConfig{
			Schedule:    cfg.SweepSchedule,
			BatchSize:   cfg.SweepBatchSize,
			Concurrency: cfg.SweepConcurrency,
		},
		c.Logger, c.Metrics,
	)

	processorConfig := outbox.DefaultProcessorConfig()
	if cfg.OutboxPollInterval > 0 {
		processorConfig.PollInterval = cfg.OutboxPollInterval
	}
	if cfg.OutboxBatchSize > 0 {
		processorConfig.BatchSize = cfg.OutboxBatchSize
	}
	if cfg.OutboxMaxRetries > 0 {
		processorConfig.MaxRetries = cfg.OutboxMaxRetries
	}
	if cfg.OutboxRetentionDays > 0 {
		processorConfig.Retention = time.Duration(cfg.OutboxRetentionDays) * 24 * time.Hour
	}
	c.OutboxProcessor = outbox.NewProcessor(repos.Outbox, c.EventPublisher, processorConfig, c.Logger,
		outbox.WithClock(c.Clock),
		outbox.WithMetrics(c.Metrics),
	)
	return nil
}

// Close releases every connection the container opened.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		} else {
			c.Logger.Info("Redis connection closed")
		}
	}

	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("error closing database connection", "error", err)
		} else {
			c.Logger.Info("database connection closed", "driver", c.DBDriver)
		}
	}
}
