// Package rabbitmq wraps the broker connection used to publish and consume
// job wake-up messages.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned while the connection is down
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Topology names the exchange and queue carrying wake-ups
type Topology struct {
	Exchange           string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	Queue              string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
}

// Retry is an attempt budget with a growing delay between attempts
type Retry struct {
	Attempts   int
	Interval   time.Duration
	Multiplier float64
}

func (r Retry) withDefaults() Retry {
	if r.Attempts <= 0 {
		r.Attempts = 3
	}
	if r.Interval <= 0 {
		r.Interval = 100 * time.Millisecond
	}
	if r.Multiplier < 1 {
		r.Multiplier = 1
	}
	return r
}

// do runs fn until it succeeds, the budget is spent or ctx is done
func (r Retry) do(ctx context.Context, fn func(attempt int) error) (int, error) {
	r = r.withDefaults()
	delay := r.Interval

	var err error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return attempt, nil
		}
		if attempt == r.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.Multiplier)
	}
	return r.Attempts, err
}

// Config holds RabbitMQ connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	Topology          Topology
	Connect           Retry
	Publish           Retry
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
	PrefetchCount     int
}

// URI renders the connection string with credentials escaped
func (c *Config) URI() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

// Client is a single connection and channel to the broker
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewClient dials the broker, retrying per config.Connect, and declares the topology
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{config: config, logger: logger}

	dialCfg := amqp.Config{Heartbeat: config.Heartbeat, Locale: "en_US"}
	if config.ConnectionTimeout > 0 {
		dialCfg.Dial = amqp.DefaultDial(config.ConnectionTimeout)
	}

	var conn *amqp.Connection
	attempts, err := config.Connect.do(ctx, func(attempt int) error {
		var err error
		conn, err = amqp.DialConfig(config.URI(), dialCfg)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ",
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := declare(ch, config); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	c.conn, c.channel = conn, ch
	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	logger.Info("RabbitMQ client initialized",
		slog.String("exchange", config.Topology.Exchange),
		slog.String("queue", config.Topology.Queue),
		slog.Int("attempts", attempts),
	)
	return c, nil
}

func declare(ch *amqp.Channel, config *Config) error {
	t := config.Topology
	if err := ch.ExchangeDeclare(t.Exchange, t.ExchangeType, t.ExchangeDurable, t.ExchangeAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(t.Queue, t.QueueDurable, t.QueueAutoDelete, t.QueueExclusive, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	if config.PrefetchCount > 0 {
		if err := ch.Qos(config.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set prefetch: %w", err)
		}
	}
	return nil
}

// watch logs an unexpected connection loss. Workers keep polling the database meanwhile.
func (c *Client) watch(closes <-chan *amqp.Error) {
	err, ok := <-closes
	if !ok || err == nil {
		return
	}
	c.logger.Error("RabbitMQ connection lost",
		slog.Int("code", err.Code),
		slog.String("reason", err.Reason),
	)
}

func (c *Client) liveChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// PublishWithRetry publishes a persistent message, retrying per config.Publish
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	msg := amqp.Publishing{
		MessageId:    uuid.NewString(),
		ContentType:  contentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	t := c.config.Topology

	attempts, err := c.config.Publish.do(ctx, func(attempt int) error {
		ch, err := c.liveChannel()
		if err != nil {
			return err
		}
		if err := ch.PublishWithContext(ctx, t.Exchange, t.RoutingKey, false, false, msg); err != nil {
			c.logger.Warn("Failed to publish to RabbitMQ",
				slog.Int("attempt", attempt),
				slog.String("message_id", msg.MessageId),
				slog.Any("error", err),
			)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish message after %d attempts: %w", attempts, err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.String("message_id", msg.MessageId),
		slog.Int("body_size", len(body)),
		slog.Int("attempts", attempts),
	)
	return nil
}

// Consume starts a manual-ack consumer on the wake-up queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	ch, err := c.liveChannel()
	if err != nil {
		return nil, err
	}

	deliveries, err := ch.Consume(c.config.Topology.Queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.Topology.Queue),
		slog.String("consumer_tag", consumerTag),
	)
	return deliveries, nil
}

// Ping reports whether the connection and channel are usable
func (c *Client) Ping(_ context.Context) error {
	_, err := c.liveChannel()
	return err
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.Ping(context.Background()) == nil
}

// Close closes the channel and the connection. It is safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}
