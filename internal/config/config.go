package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig                 `yaml:"server"`
	Database     DatabaseConfig               `yaml:"database"`
	RabbitMQ     RabbitMQConfig               `yaml:"rabbitmq"`
	Redis        RedisConfig                  `yaml:"redis"`
	Logging      LoggingConfig                `yaml:"logging"`
	App          AppConfig                    `yaml:"app"`
	Worker       WorkerConfig                 `yaml:"worker"`
	Scheduler    SchedulerConfig              `yaml:"scheduler"`
	Queue        JobQueueConfig               `yaml:"queue"`
	RateLimit    RateLimitConfig              `yaml:"rate_limit"`
	Alert        AlertConfig                  `yaml:"alert"`
	Notify       NotifyConfig                 `yaml:"notify"`
	Health       HealthConfig                 `yaml:"health"`
	Webhook      WebhookConfig                `yaml:"webhook"`
	Cron         CronConfig                   `yaml:"cron"`
	Marketplaces map[string]MarketplaceConfig `yaml:"marketplaces"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// An empty host disables the broker; workers then rely on polling alone.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// Enabled reports whether a broker is configured
func (c RabbitMQConfig) Enabled() bool { return c.Host != "" }

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the connection used by the shared rate limiter store
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	DrainLimit      int           `yaml:"drain_limit"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SchedulerConfig holds the in-process scheduler settings of the worker service
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	TickSpec string        `yaml:"tick_spec"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// BackoffConfig selects the retry cooldown strategy
type BackoffConfig struct {
	Strategy string        `yaml:"strategy"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

// JobQueueConfig holds retry and statistics settings of the job queue
type JobQueueConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     BackoffConfig `yaml:"backoff"`
	SweepLimit  int           `yaml:"sweep_limit"`
	StuckAfter  time.Duration `yaml:"stuck_after"`
	StatsWindow time.Duration `yaml:"stats_window"`
}

// RateLimitConfig holds the default outbound limit
type RateLimitConfig struct {
	Store       string        `yaml:"store"`
	Calls       int           `yaml:"calls"`
	Window      time.Duration `yaml:"window"`
	Policy      string        `yaml:"policy"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// Rate limiter stores
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// AlertConfig holds alert engine settings
type AlertConfig struct {
	Cooldown    time.Duration `yaml:"cooldown"`
	OrderWindow time.Duration `yaml:"order_window"`
}

// NotifyConfig configures notification channels. A channel without its
// required fields is not registered.
type NotifyConfig struct {
	DefaultChannels []string            `yaml:"default_channels"`
	Email           EmailConfig         `yaml:"email"`
	Slack           SlackConfig         `yaml:"slack"`
	Webhook         WebhookNotifyConfig `yaml:"webhook"`
}

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Enabled reports whether the email channel can send
func (c EmailConfig) Enabled() bool { return c.Host != "" && c.From != "" && len(c.To) > 0 }

// SlackConfig holds the incoming webhook url
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookNotifyConfig holds the outbound alert webhook
type WebhookNotifyConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig holds health probe settings
type HealthConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// WebhookConfig holds inbound webhook verification settings
type WebhookConfig struct {
	Tolerance    time.Duration `yaml:"tolerance"`
	ReplayWindow time.Duration `yaml:"replay_window"`
}

// CronConfig holds the shared secret of the /cron trigger
type CronConfig struct {
	Token string `yaml:"token"`
}

// MarketplaceConfig describes one marketplace connection and its rate limit override
type MarketplaceConfig struct {
	BaseURL       string           `yaml:"base_url"`
	APIKey        string           `yaml:"api_key"`
	Timeout       time.Duration    `yaml:"timeout"`
	WebhookSecret string           `yaml:"webhook_secret"`
	RateLimit     *RateLimitConfig `yaml:"rate_limit"`
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.MergeWithEnv()
	config.ApplyDefaults()
	return &config, nil
}

// MergeWithEnv overrides secrets from environment variables
func (c *Config) MergeWithEnv() {
	override := func(dst *string, key string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	override(&c.Database.Password, "DATABASE_PASSWORD")
	override(&c.RabbitMQ.Password, "RABBITMQ_PASSWORD")
	override(&c.Redis.Password, "REDIS_PASSWORD")
	override(&c.Cron.Token, "CRON_TOKEN")
	override(&c.Notify.Email.Password, "SMTP_PASSWORD")
	override(&c.Notify.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	override(&c.Notify.Webhook.Secret, "ALERT_WEBHOOK_SECRET")
}

// ApplyDefaults fills unset tuning values
func (c *Config) ApplyDefaults() {
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.Backoff.Strategy == "" {
		c.Queue.Backoff.Strategy = "constant"
	}
	if c.Queue.Backoff.Initial <= 0 {
		c.Queue.Backoff.Initial = 5 * time.Minute
	}
	if c.Queue.SweepLimit <= 0 {
		c.Queue.SweepLimit = 500
	}
	if c.Queue.StuckAfter <= 0 {
		c.Queue.StuckAfter = time.Hour
	}
	if c.Queue.StatsWindow <= 0 {
		c.Queue.StatsWindow = time.Hour
	}

	if c.RateLimit.Store == "" {
		c.RateLimit.Store = RateLimitStoreMemory
	}
	if c.RateLimit.Calls <= 0 {
		c.RateLimit.Calls = 50
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = 10 * time.Second
	}
	if c.RateLimit.Policy == "" {
		c.RateLimit.Policy = "reject"
	}

	if c.Alert.Cooldown <= 0 {
		c.Alert.Cooldown = 5 * time.Minute
	}
	if c.Alert.OrderWindow <= 0 {
		c.Alert.OrderWindow = time.Hour
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.DrainLimit <= 0 {
		c.Worker.DrainLimit = 50
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = 5 * time.Minute
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 10 * time.Second
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if c.Scheduler.TickSpec == "" {
		c.Scheduler.TickSpec = "@every 1m"
	}
	if c.Scheduler.LockTTL <= 0 {
		c.Scheduler.LockTTL = 30 * time.Minute
	}

	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Enabled() {
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}

		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	switch c.RateLimit.Store {
	case RateLimitStoreMemory, "":
	case RateLimitStoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis rate limit store")
		}
	default:
		return fmt.Errorf("unknown rate limit store %q", c.RateLimit.Store)
	}

	if err := validatePolicy(c.RateLimit.Policy); err != nil {
		return err
	}

	switch c.Queue.Backoff.Strategy {
	case "constant", "exponential", "":
	default:
		return fmt.Errorf("unknown backoff strategy %q", c.Queue.Backoff.Strategy)
	}

	for name, m := range c.Marketplaces {
		if m.BaseURL == "" {
			return fmt.Errorf("marketplace %s: base_url is required", name)
		}
		if m.RateLimit != nil {
			if err := validatePolicy(m.RateLimit.Policy); err != nil {
				return fmt.Errorf("marketplace %s: %w", name, err)
			}
		}
	}

	return nil
}

func validatePolicy(p string) error {
	switch p {
	case "reject", "wait", "":
		return nil
	}
	return fmt.Errorf("unknown rate limit policy %q", p)
}

// ValidateAPIConfig checks the API service configuration
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the worker service configuration
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.DrainLimit <= 0 {
		return fmt.Errorf("worker drain_limit must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Scheduler.Enabled && c.Scheduler.TickSpec == "" {
		return fmt.Errorf("scheduler tick_spec is required when the scheduler is enabled")
	}

	return c.Validate()
}

// WebhookSecrets maps each marketplace with a signing secret to that secret
func (c *Config) WebhookSecrets() map[string]string {
	secrets := make(map[string]string, len(c.Marketplaces))
	for name, m := range c.Marketplaces {
		if m.WebhookSecret != "" {
			secrets[name] = m.WebhookSecret
		}
	}
	return secrets
}
