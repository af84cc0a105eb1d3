package domain

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// RuleType selects which metric an alert rule watches
type RuleType string

const (
	RuleHealthCheck  RuleType = "health_check"
	RuleErrorRate    RuleType = "error_rate"
	RuleResponseTime RuleType = "response_time"
	RuleQueueSize    RuleType = "queue_size"
	RuleOrderVolume  RuleType = "order_volume"
)

// Operator compares a metric value with a rule threshold
type Operator string

const (
	OpGreater  Operator = "greater"
	OpLess     Operator = "less"
	OpEqual    Operator = "equal"
	OpNotEqual Operator = "not_equal"
)

// Compare applies the operator as "value <op> threshold"
func (o Operator) Compare(value, threshold float64) (bool, error) {
	switch o {
	case OpGreater:
		return value > threshold, nil
	case OpLess:
		return value < threshold, nil
	case OpEqual:
		return value == threshold, nil
	case OpNotEqual:
		return value != threshold, nil
	default:
		return false, fmt.Errorf("unknown threshold operator %q", o)
	}
}

// Severity of an alert event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities from low (1) to critical (4)
func (s Severity) Rank() int {
	return severityRank[s]
}

// AlertRule is a threshold check evaluated against metric snapshots
type AlertRule struct {
	ID                int64          `db:"id" json:"id"`
	Name              string         `db:"name" json:"name"`
	RuleType          RuleType       `db:"rule_type" json:"rule_type"`
	ThresholdValue    float64        `db:"threshold_value" json:"threshold_value"`
	ThresholdOperator Operator       `db:"threshold_operator" json:"threshold_operator"`
	Marketplace       *string        `db:"marketplace" json:"marketplace,omitempty"`
	AlertChannels     pq.StringArray `db:"alert_channels" json:"alert_channels"`
	IsActive          bool           `db:"is_active" json:"is_active"`
	LastTriggered     *time.Time     `db:"last_triggered" json:"last_triggered,omitempty"`
	TriggerCount      int            `db:"trigger_count" json:"trigger_count"`
}

// MarketplaceName returns the rule scope or an empty string for global rules
func (r *AlertRule) MarketplaceName() string {
	if r.Marketplace == nil {
		return ""
	}
	return *r.Marketplace
}

// InCooldown reports whether the rule fired less than cooldown before now
func (r *AlertRule) InCooldown(now time.Time, cooldown time.Duration) bool {
	return r.LastTriggered != nil && now.Before(r.LastTriggered.Add(cooldown))
}

// AlertEvent is an immutable record of a fired rule
type AlertEvent struct {
	ID             string         `db:"id" json:"id"`
	AlertRuleID    int64          `db:"alert_rule_id" json:"alert_rule_id"`
	Message        string         `db:"message" json:"message"`
	Severity       Severity       `db:"severity" json:"severity"`
	TriggeredValue float64        `db:"triggered_value" json:"triggered_value"`
	ThresholdValue float64        `db:"threshold_value" json:"threshold_value"`
	ChannelsSent   pq.StringArray `db:"channels_sent" json:"channels_sent"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}
