// Package container builds the component graph of every marketsync binary
// from configuration.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/marketsync/internal/alert"
	apihandler "github.com/cuongbtq/marketsync/internal/api/handler"
	"github.com/cuongbtq/marketsync/internal/backoff"
	"github.com/cuongbtq/marketsync/internal/config"
	"github.com/cuongbtq/marketsync/internal/health"
	"github.com/cuongbtq/marketsync/internal/marketplace"
	"github.com/cuongbtq/marketsync/internal/notify"
	"github.com/cuongbtq/marketsync/internal/queue"
	"github.com/cuongbtq/marketsync/internal/ratelimit"
	"github.com/cuongbtq/marketsync/internal/scheduler"
	"github.com/cuongbtq/marketsync/internal/storage"
	"github.com/cuongbtq/marketsync/internal/worker"
	jobhandler "github.com/cuongbtq/marketsync/internal/worker/handler"
	"github.com/cuongbtq/marketsync/shared/postgresql"
	"github.com/cuongbtq/marketsync/shared/rabbitmq"
	"github.com/cuongbtq/marketsync/shared/redis"
)

// Store is everything the components persist. Both the PostgreSQL storage
// and the in-memory store implement it.
type Store interface {
	queue.Store
	scheduler.Store
	scheduler.Catalog
	scheduler.Cleaner
	alert.Store
	jobhandler.Catalog
	health.LogWriter
	health.OrderCounter
	apihandler.AlertStore
	apihandler.WebhookRecorder

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Broker publishes wake-up messages and feeds consumers
type Broker interface {
	queue.Publisher
	worker.DeliverySource
	health.Pinger
}

// Container holds the wired components
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Store      Store
	Broker     Broker
	Queue      *queue.Queue
	Limiter    *ratelimit.Limiter
	Registry   *marketplace.Registry
	Dispatcher *notify.Dispatcher
	Alerts     *alert.Engine
	Prober     *health.Prober
	Collector  *health.Collector
	Scheduler  *scheduler.Scheduler
	Worker     *worker.Worker

	closers []func() error
}

type options struct {
	store        Store
	broker       Broker
	noBroker     bool
	limiterStore ratelimit.Store
	adapters     []marketplace.Adapter
}

// Option overrides a dependency that would otherwise be connected from config
type Option func(*options)

// WithStore uses store instead of connecting to PostgreSQL
func WithStore(store Store) Option {
	return func(o *options) { o.store = store }
}

// WithBroker uses b instead of connecting to RabbitMQ
func WithBroker(b Broker) Option {
	return func(o *options) { o.broker = b }
}

// WithoutBroker skips RabbitMQ even when it is configured. One-shot CLI runs use it.
func WithoutBroker() Option {
	return func(o *options) { o.noBroker = true }
}

// WithLimiterStore uses s instead of the configured rate limit store
func WithLimiterStore(s ratelimit.Store) Option {
	return func(o *options) { o.limiterStore = s }
}

// WithAdapters registers adapters in addition to the configured REST marketplaces
func WithAdapters(adapters ...marketplace.Adapter) Option {
	return func(o *options) { o.adapters = append(o.adapters, adapters...) }
}

// New connects the configured infrastructure and wires every component.
// Close releases whatever New opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Container, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{Config: cfg, Logger: logger}
	var deps []health.Option

	if o.store == nil {
		db, err := postgresql.NewClient(postgresConfig(&cfg.Database), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		o.store = storage.NewStorage(db, logger)
	}
	c.Store = o.store

	if o.broker == nil && !o.noBroker && cfg.RabbitMQ.Enabled() {
		client, err := rabbitmq.NewClient(ctx, rabbitConfig(&cfg.RabbitMQ), logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		o.broker = client
	}
	if o.broker != nil && !o.noBroker {
		c.Broker = o.broker
		deps = append(deps, health.WithDependency("rabbitmq", o.broker))
	}

	if o.limiterStore == nil {
		switch cfg.RateLimit.Store {
		case config.RateLimitStoreRedis:
			client, err := redis.NewClient(ctx, redisConfig(&cfg.Redis), logger)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to initialize Redis: %w", err)
			}
			c.closers = append(c.closers, client.Close)
			o.limiterStore = ratelimit.NewRedisStore(client.GetClient())
			deps = append(deps, health.WithDependency("redis", client))
		default:
			o.limiterStore = ratelimit.NewMemoryStore()
		}
	}

	if err := c.wire(o, deps); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) wire(o options, deps []health.Option) error {
	cfg, logger := c.Config, c.Logger

	strategy, err := backoff.New(backoff.Kind(cfg.Queue.Backoff.Strategy), cfg.Queue.Backoff.Initial, cfg.Queue.Backoff.Max)
	if err != nil {
		return err
	}
	var queueOpts []queue.Option
	if c.Broker != nil {
		queueOpts = append(queueOpts, queue.WithNotifier(queue.NewBrokerNotifier(c.Broker)))
	}
	c.Queue = queue.New(c.Store, queue.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     strategy,
		SweepLimit:  cfg.Queue.SweepLimit,
		StuckAfter:  cfg.Queue.StuckAfter,
		StatsWindow: cfg.Queue.StatsWindow,
	}, logger, queueOpts...)

	var limitOpts []ratelimit.Option
	for name, m := range cfg.Marketplaces {
		if m.RateLimit != nil {
			limitOpts = append(limitOpts, ratelimit.WithMarketplaceLimit(name, limit(*m.RateLimit)))
		}
	}
	c.Limiter = ratelimit.New(o.limiterStore, limit(cfg.RateLimit), logger, limitOpts...)

	c.Registry = marketplace.NewRegistry(o.adapters...)
	for name, m := range cfg.Marketplaces {
		c.Registry.Register(marketplace.NewRESTAdapter(marketplace.RESTConfig{
			Name:    name,
			BaseURL: m.BaseURL,
			APIKey:  m.APIKey,
			Timeout: m.Timeout,
		}, c.Limiter, logger))
	}

	c.Dispatcher = notify.NewDispatcher(logger, channels(cfg.Notify, logger)...)
	c.Alerts = alert.NewEngine(c.Store, c.Dispatcher, logger, alert.WithCooldown(cfg.Alert.Cooldown))

	deps = append(deps,
		health.WithMarketplaces(c.Registry),
		health.WithQueue(c.Queue),
		health.WithLogWriter(c.Store),
	)
	c.Prober = health.NewProber(c.Store, health.Config{
		CacheTTL:     cfg.Health.CacheTTL,
		CheckTimeout: cfg.Health.CheckTimeout,
	}, logger, deps...)
	c.Collector = health.NewCollector(c.Prober, c.Queue, c.Store, cfg.Alert.OrderWindow)

	c.Scheduler = scheduler.New(c.Store, logger, scheduler.WithLockTTL(cfg.Scheduler.LockTTL))
	scheduler.RegisterProducers(c.Scheduler, scheduler.Deps{
		Queue:        c.Queue,
		Catalog:      c.Store,
		Marketplaces: c.Registry,
		Health:       c.Prober,
		Cleaner:      c.Store,
		Metrics:      c.Collector,
		Alerts:       c.Alerts,
		Logger:       logger,
	})

	c.Worker = worker.NewWorker(c.Queue, worker.Config{
		Concurrency:  cfg.Worker.Concurrency,
		JobTimeout:   cfg.Worker.JobTimeout,
		PollInterval: cfg.Worker.PollInterval,
		DrainLimit:   cfg.Worker.DrainLimit,
	}, logger)
	jobhandler.New(c.Registry, c.Store, logger,
		jobhandler.WithSender(c.Dispatcher, cfg.Notify.DefaultChannels...),
	).RegisterAll(c.Worker)

	return nil
}

// APIDependencies returns the handler dependencies of the HTTP API
func (c *Container) APIDependencies() *apihandler.Dependencies {
	return &apihandler.Dependencies{
		Logger:           c.Logger,
		Jobs:             c.Queue,
		Tasks:            c.Scheduler,
		Alerts:           c.Store,
		Health:           c.Prober,
		Webhooks:         c.Store,
		CronToken:        c.Config.Cron.Token,
		WebhookSecrets:   c.Config.WebhookSecrets(),
		WebhookTolerance: c.Config.Webhook.Tolerance,
		ReplayWindow:     c.Config.Webhook.ReplayWindow,
	}
}

// Close releases connections in reverse order of opening
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Error("Failed to close resource", slog.Any("error", err))
		}
	}
	c.closers = nil
}

func channels(cfg config.NotifyConfig, logger *slog.Logger) []notify.Channel {
	out := []notify.Channel{notify.NewLogChannel(logger)}
	if cfg.Email.Enabled() {
		out = append(out, notify.NewEmailChannel(notify.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}))
	}
	if cfg.Slack.WebhookURL != "" {
		out = append(out, notify.NewSlackChannel(cfg.Slack.WebhookURL))
	}
	if cfg.Webhook.URL != "" {
		out = append(out, notify.NewWebhookChannel(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout))
	}
	return out
}

func limit(cfg config.RateLimitConfig) ratelimit.Limit {
	return ratelimit.Limit{
		Calls:       cfg.Calls,
		Window:      cfg.Window,
		Policy:      ratelimit.Policy(cfg.Policy),
		WaitTimeout: cfg.WaitTimeout,
	}
}

func postgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
	}
}

func rabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		VHost:    cfg.VHost,
		Topology: rabbitmq.Topology{
			Exchange:           cfg.Exchange.Name,
			ExchangeType:       cfg.Exchange.Type,
			ExchangeDurable:    cfg.Exchange.Durable,
			ExchangeAutoDelete: cfg.Exchange.AutoDelete,
			Queue:              cfg.Queue.Name,
			QueueDurable:       cfg.Queue.Durable,
			QueueAutoDelete:    cfg.Queue.AutoDelete,
			QueueExclusive:     cfg.Queue.Exclusive,
			RoutingKey:         cfg.RoutingKey,
		},
		Connect: rabbitmq.Retry{
			Attempts: cfg.Connection.RetryAttempts,
			Interval: cfg.Connection.RetryInterval,
		},
		Publish: rabbitmq.Retry{
			Attempts:   cfg.Publish.RetryAttempts,
			Interval:   cfg.Publish.RetryInterval,
			Multiplier: cfg.Publish.BackoffMultiplier,
		},
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
		PrefetchCount:     cfg.Consumer.PrefetchCount,
	}
}

func redisConfig(cfg *config.RedisConfig) *redis.Config {
	return &redis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
