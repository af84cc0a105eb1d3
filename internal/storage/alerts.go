package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const ruleColumns = `id, name, rule_type, threshold_value, threshold_operator, marketplace,
	alert_channels, is_active, last_triggered, trigger_count`

// ActiveRules returns every rule with is_active set
func (s *Storage) ActiveRules(ctx context.Context) ([]*domain.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE is_active ORDER BY id`

	var rules []*domain.AlertRule
	if err := s.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("failed to select active rules: %w", err)
	}
	return rules, nil
}

// ListRules returns every rule
func (s *Storage) ListRules(ctx context.Context) ([]*domain.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules ORDER BY id`

	var rules []*domain.AlertRule
	if err := s.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// CreateRule inserts a rule and sets its ID
func (s *Storage) CreateRule(ctx context.Context, rule *domain.AlertRule) error {
	query := `
		INSERT INTO alert_rules (
			name, rule_type, threshold_value, threshold_operator, marketplace, alert_channels, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	if err := s.db.GetContext(ctx, &rule.ID, query,
		rule.Name, rule.RuleType, rule.ThresholdValue, rule.ThresholdOperator,
		rule.Marketplace, rule.AlertChannels, rule.IsActive); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// RecordFire starts the rule's cooldown and stores event in one transaction.
// It reports false without writing when the rule is inactive or fired after
// cutoff. The conditional update serializes cooldown checks across processes.
func (s *Storage) RecordFire(ctx context.Context, event *domain.AlertEvent, cutoff time.Time) (bool, error) {
	markQuery := `
		UPDATE alert_rules
		SET last_triggered = $1,
		    trigger_count = trigger_count + 1
		WHERE id = $2
		  AND is_active
		  AND (last_triggered IS NULL OR last_triggered <= $3)
	`
	insertQuery := `
		INSERT INTO alert_events (
			id, alert_rule_id, message, severity, triggered_value, threshold_value, channels_sent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	fired := false
	err := s.client.InTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, markQuery, event.CreatedAt, event.AlertRuleID, cutoff)
		if err != nil {
			return fmt.Errorf("failed to mark rule triggered: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, insertQuery,
			event.ID, event.AlertRuleID, event.Message, event.Severity,
			event.TriggeredValue, event.ThresholdValue, event.ChannelsSent, event.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert alert event: %w", err)
		}
		fired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return fired, nil
}

// SetEventChannels records which channels delivered an event
func (s *Storage) SetEventChannels(ctx context.Context, eventID string, channels []string) error {
	query := `UPDATE alert_events SET channels_sent = $1 WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, pq.StringArray(channels), eventID); err != nil {
		return fmt.Errorf("failed to update alert event channels: %w", err)
	}
	return nil
}

// ListEvents returns the most recent alert events
func (s *Storage) ListEvents(ctx context.Context, limit int) ([]*domain.AlertEvent, error) {
	query := `
		SELECT id, alert_rule_id, message, severity, triggered_value, threshold_value, channels_sent, created_at
		FROM alert_events
		ORDER BY created_at DESC
		LIMIT $1
	`

	var events []*domain.AlertEvent
	if err := s.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	return events, nil
}
