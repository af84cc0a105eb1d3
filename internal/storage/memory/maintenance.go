package memory

import (
	"context"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// WriteLog appends to the logs table
func (m *Store) WriteLog(_ context.Context, entry domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logs = append(m.logs, entry)
	return nil
}

// Logs returns a copy of the logs table
func (m *Store) Logs() []domain.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]domain.LogEntry(nil), m.logs...)
}

// RecordWebhook appends to webhook_logs
func (m *Store) RecordWebhook(_ context.Context, entry domain.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.webhooks = append(m.webhooks, entry)
	return nil
}

// Webhooks returns a copy of webhook_logs
func (m *Store) Webhooks() []domain.WebhookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]domain.WebhookLog(nil), m.webhooks...)
}

// Cleanup deletes history rows older than the policy cutoffs
func (m *Store) Cleanup(_ context.Context, policy domain.RetentionPolicy) (domain.CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result domain.CleanupResult

	keptLogs := m.logs[:0]
	for _, l := range m.logs {
		switch {
		case l.Channel == domain.LogChannelHealth && l.CreatedAt.Before(policy.HealthLogs):
			result.HealthLogs++
		case l.Channel != domain.LogChannelHealth && l.CreatedAt.Before(policy.Logs):
			result.Logs++
		default:
			keptLogs = append(keptLogs, l)
		}
	}
	m.logs = keptLogs

	keptHooks := m.webhooks[:0]
	for _, w := range m.webhooks {
		expired := (w.Status == domain.WebhookProcessed && w.CreatedAt.Before(policy.WebhooksProcessed)) ||
			(w.Status != domain.WebhookProcessed && w.CreatedAt.Before(policy.WebhooksFailed))
		if expired {
			result.WebhookLogs++
			continue
		}
		keptHooks = append(keptHooks, w)
	}
	m.webhooks = keptHooks

	keptEvents := m.events[:0]
	for _, e := range m.events {
		if e.CreatedAt.Before(policy.AlertEvents) {
			result.AlertEvents++
			continue
		}
		keptEvents = append(keptEvents, e)
	}
	m.events = keptEvents

	keptExecs := m.execs[:0]
	for _, e := range m.execs {
		if e.StartedAt.Before(policy.TaskExecutions) {
			result.TaskExecutions++
			continue
		}
		keptExecs = append(keptExecs, e)
	}
	m.execs = keptExecs

	return result, nil
}
