package storage

import (
	"context"
	"fmt"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/jmoiron/sqlx"
)

// WriteLog appends a row to the logs table
func (s *Storage) WriteLog(ctx context.Context, entry domain.LogEntry) error {
	query := `INSERT INTO logs (channel, level, message, context, created_at) VALUES ($1, $2, $3, $4::jsonb, $5)`

	var logContext *string
	if len(entry.Context) > 0 {
		c := string(entry.Context)
		logContext = &c
	}

	if _, err := s.db.ExecContext(ctx, query,
		entry.Channel, entry.Level, entry.Message, logContext, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}
	return nil
}

// RecordWebhook appends a row to webhook_logs
func (s *Storage) RecordWebhook(ctx context.Context, entry domain.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (marketplace, event_type, event_id, status, payload, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := s.db.ExecContext(ctx, query,
		entry.Marketplace, entry.EventType, entry.EventID, entry.Status,
		entry.Payload, entry.Error, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to record webhook: %w", err)
	}
	return nil
}

// Cleanup deletes history rows older than the policy cutoffs in one transaction
func (s *Storage) Cleanup(ctx context.Context, policy domain.RetentionPolicy) (domain.CleanupResult, error) {
	var result domain.CleanupResult

	steps := []struct {
		query string
		args  []interface{}
		count *int64
	}{
		{
			query: `DELETE FROM logs WHERE channel <> $1 AND created_at < $2`,
			args:  []interface{}{domain.LogChannelHealth, policy.Logs},
			count: &result.Logs,
		},
		{
			query: `DELETE FROM logs WHERE channel = $1 AND created_at < $2`,
			args:  []interface{}{domain.LogChannelHealth, policy.HealthLogs},
			count: &result.HealthLogs,
		},
		{
			query: `DELETE FROM webhook_logs
				WHERE (status = $1 AND created_at < $2)
				   OR (status IN ($3, $4) AND created_at < $5)`,
			args: []interface{}{
				domain.WebhookProcessed, policy.WebhooksProcessed,
				domain.WebhookFailed, domain.WebhookRejected, policy.WebhooksFailed,
			},
			count: &result.WebhookLogs,
		},
		{
			query: `DELETE FROM alert_events WHERE created_at < $1`,
			args:  []interface{}{policy.AlertEvents},
			count: &result.AlertEvents,
		},
		{
			query: `DELETE FROM task_executions WHERE started_at < $1`,
			args:  []interface{}{policy.TaskExecutions},
			count: &result.TaskExecutions,
		},
	}

	err := s.client.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, step := range steps {
			res, err := tx.ExecContext(ctx, step.query, step.args...)
			if err != nil {
				return fmt.Errorf("failed to clean up history: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			*step.count = n
		}
		return nil
	})
	if err != nil {
		return domain.CleanupResult{}, err
	}

	return result, nil
}
