// Package alert evaluates alert rules against metric snapshots and fires
// events through notification channels.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/notify"
	"github.com/google/uuid"
)

// DefaultCooldown is the minimum gap between two fires of the same rule
const DefaultCooldown = 5 * time.Minute

// Store is the persistence the engine needs
type Store interface {
	ActiveRules(ctx context.Context) ([]*domain.AlertRule, error)
	RecordFire(ctx context.Context, event *domain.AlertEvent, cutoff time.Time) (bool, error)
	SetEventChannels(ctx context.Context, eventID string, channels []string) error
}

// Sender delivers a notification to named channels and returns the ones that succeeded
type Sender interface {
	Send(ctx context.Context, channels []string, n notify.Notification) []string
}

// Engine evaluates rules. Cooldown check and fire are serialized per rule.
type Engine struct {
	store      Store
	sender     Sender
	evaluators map[domain.RuleType]Evaluator
	cooldown   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Option configures an Engine
type Option func(*Engine)

// WithCooldown overrides DefaultCooldown
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cooldown = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvaluator registers or replaces the evaluator of a rule type
func WithEvaluator(t domain.RuleType, ev Evaluator) Option {
	return func(e *Engine) { e.evaluators[t] = ev }
}

// NewEngine creates an Engine with the default evaluators registered
func NewEngine(store Store, sender Sender, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		sender:     sender,
		evaluators: DefaultEvaluators(),
		cooldown:   DefaultCooldown,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) ruleLock(id int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Evaluate checks every active rule against the snapshot and returns the fired events.
// A failing rule is logged and skipped.
func (e *Engine) Evaluate(ctx context.Context, snapshot domain.MetricsSnapshot) ([]*domain.AlertEvent, error) {
	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert rules: %w", err)
	}

	var events []*domain.AlertEvent
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return events, err
		}

		ev, ok := e.evaluators[rule.RuleType]
		if !ok {
			e.logger.Warn("No evaluator for alert rule type",
				slog.Int64("rule_id", rule.ID),
				slog.String("rule_type", string(rule.RuleType)),
			)
			continue
		}

		value := ev.Value(rule, snapshot)
		matched, err := rule.ThresholdOperator.Compare(value, rule.ThresholdValue)
		if err != nil {
			e.logger.Warn("Invalid alert rule",
				slog.Int64("rule_id", rule.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !matched {
			continue
		}

		event, err := e.Fire(ctx, rule, Describe(rule, value), value)
		if err != nil {
			e.logger.Error("Failed to fire alert",
				slog.Int64("rule_id", rule.ID),
				slog.String("rule", rule.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events, nil
}

// Fire records and dispatches an alert for rule. It returns nil without error
// when the rule is inactive or still in cooldown.
func (e *Engine) Fire(ctx context.Context, rule *domain.AlertRule, message string, value float64) (*domain.AlertEvent, error) {
	lock := e.ruleLock(rule.ID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()
	event := &domain.AlertEvent{
		ID:             uuid.NewString(),
		AlertRuleID:    rule.ID,
		Message:        message,
		Severity:       Severity(rule, value),
		TriggeredValue: value,
		ThresholdValue: rule.ThresholdValue,
		ChannelsSent:   []string{},
		CreatedAt:      now,
	}

	// cooldown and event are written together so a failed insert leaves the rule armed
	fired, err := e.store.RecordFire(ctx, event, now.Add(-e.cooldown))
	if err != nil {
		return nil, fmt.Errorf("failed to record alert: %w", err)
	}
	if !fired {
		e.logger.Debug("Alert rule in cooldown",
			slog.Int64("rule_id", rule.ID),
			slog.String("rule", rule.Name),
		)
		return nil, nil
	}

	sent := e.sender.Send(ctx, rule.AlertChannels, notify.Notification{
		RuleName:    rule.Name,
		RuleType:    string(rule.RuleType),
		Marketplace: rule.MarketplaceName(),
		Message:     message,
		Severity:    event.Severity,
		Value:       value,
		Threshold:   rule.ThresholdValue,
		Timestamp:   now,
	})
	event.ChannelsSent = sent

	if err := e.store.SetEventChannels(ctx, event.ID, sent); err != nil {
		return event, fmt.Errorf("failed to record delivered channels: %w", err)
	}

	e.logger.Info("Alert fired",
		slog.Int64("rule_id", rule.ID),
		slog.String("rule", rule.Name),
		slog.String("severity", string(event.Severity)),
		slog.Float64("value", value),
		slog.Any("channels_sent", sent),
	)
	return event, nil
}

// Severity tiers an alert by how far value exceeds the threshold.
// health_check rules are always critical.
func Severity(rule *domain.AlertRule, value float64) domain.Severity {
	if rule.RuleType == domain.RuleHealthCheck {
		return domain.SeverityCritical
	}
	if rule.ThresholdValue <= 0 {
		if value > rule.ThresholdValue {
			return domain.SeverityMedium
		}
		return domain.SeverityLow
	}

	ratio := value / rule.ThresholdValue
	switch {
	case ratio > 3:
		return domain.SeverityCritical
	case ratio > 2:
		return domain.SeverityHigh
	case ratio > 1:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Describe renders the default alert message
func Describe(rule *domain.AlertRule, value float64) string {
	scope := ""
	if m := rule.MarketplaceName(); m != "" {
		scope = " on " + m
	}
	return fmt.Sprintf("%s%s: %s is %g (threshold %s %g)",
		rule.Name, scope, rule.RuleType, value, rule.ThresholdOperator, rule.ThresholdValue)
}
