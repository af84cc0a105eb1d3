package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/health"
	"github.com/cuongbtq/marketsync/internal/scheduler"
)

// JobService is the admin view of the job queue
type JobService interface {
	Enqueue(ctx context.Context, jobType domain.JobType, marketplace string, payload domain.Payload, priority int) (string, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	Retry(ctx context.Context, jobID string) error
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// TaskService runs and inspects scheduled tasks
type TaskService interface {
	Tasks(ctx context.Context) ([]*domain.ScheduledTask, error)
	RunTask(ctx context.Context, name string, opts ...scheduler.RunOption) (scheduler.TaskResult, error)
	TaskStats(ctx context.Context, name string) (domain.TaskStats, error)
}

// AlertStore lists alert rules and fired events
type AlertStore interface {
	ListRules(ctx context.Context) ([]*domain.AlertRule, error)
	ListEvents(ctx context.Context, limit int) ([]*domain.AlertEvent, error)
}

// HealthChecker returns the cached health report
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// WebhookRecorder persists inbound webhook deliveries
type WebhookRecorder interface {
	RecordWebhook(ctx context.Context, entry domain.WebhookLog) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Jobs      JobService
	Tasks     TaskService
	Alerts    AlertStore
	Health    HealthChecker
	Webhooks  WebhookRecorder
	CronToken string

	// WebhookSecrets maps a marketplace name to its signing secret
	WebhookSecrets   map[string]string
	WebhookTolerance time.Duration
	ReplayWindow     time.Duration

	Now func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
