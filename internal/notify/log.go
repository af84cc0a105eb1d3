package notify

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// LogChannel writes alerts to the application log. It never fails.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log channel
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return ChannelLog }

func (c *LogChannel) Send(ctx context.Context, n Notification) error {
	level := slog.LevelWarn
	if n.Severity == domain.SeverityHigh || n.Severity == domain.SeverityCritical {
		level = slog.LevelError
	}
	c.logger.LogAttrs(ctx, level, "ALERT: "+n.Message,
		slog.String("rule", n.RuleName),
		slog.String("rule_type", n.RuleType),
		slog.String("severity", string(n.Severity)),
		slog.String("marketplace", n.Marketplace),
		slog.Float64("value", n.Value),
		slog.Float64("threshold", n.Threshold),
	)
	return nil
}
