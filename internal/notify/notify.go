// Package notify delivers alert notifications over email, webhooks, Slack
// and the application log.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// Channel names used in alert rules
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelSlack   = "slack"
	ChannelLog     = "log"
)

// Notification is what every channel receives
type Notification struct {
	RuleName    string
	RuleType    string
	Marketplace string
	Message     string
	Severity    domain.Severity
	Value       float64
	Threshold   float64
	Timestamp   time.Time
}

// Channel sends one notification
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans a notification out to named channels
type Dispatcher struct {
	channels map[string]Channel
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given channels
func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]Channel, len(channels)),
		logger:   logger,
	}
	for _, c := range channels {
		d.channels[c.Name()] = c
	}
	return d
}

// Has reports whether a channel is configured
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.channels[name]
	return ok
}

// Send delivers n to each named channel and returns the names that succeeded.
// A failing or unknown channel is logged and does not stop the others.
func (d *Dispatcher) Send(ctx context.Context, names []string, n Notification) []string {
	sent := make([]string, 0, len(names))
	for _, name := range names {
		ch, ok := d.channels[name]
		if !ok {
			d.logger.Warn("Notification channel not configured",
				slog.String("channel", name),
				slog.String("rule", n.RuleName),
			)
			continue
		}

		if err := ch.Send(ctx, n); err != nil {
			d.logger.Error("Failed to send notification",
				slog.String("channel", name),
				slog.String("rule", n.RuleName),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent = append(sent, name)
	}
	return sent
}
