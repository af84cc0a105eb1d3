package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

const taskColumns = `id, name, job_type, frequency, priority, next_run, last_run,
	status, is_active, parameters, locked_until, updated_at`

// DueTasks returns active tasks whose next run is not after now
func (s *Storage) DueTasks(ctx context.Context, now time.Time) ([]*domain.ScheduledTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		WHERE is_active
		  AND next_run <= $1
		ORDER BY priority DESC, next_run ASC, id ASC
	`

	var tasks []*domain.ScheduledTask
	if err := s.db.SelectContext(ctx, &tasks, query, now); err != nil {
		return nil, fmt.Errorf("failed to select due tasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns every scheduled task ordered by name
func (s *Storage) ListTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks ORDER BY name`

	var tasks []*domain.ScheduledTask
	if err := s.db.SelectContext(ctx, &tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// GetTaskByName looks a task up by its unique name
func (s *Storage) GetTaskByName(ctx context.Context, name string) (*domain.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE name = $1`

	var task domain.ScheduledTask
	if err := s.db.GetContext(ctx, &task, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// CreateTaskIfMissing inserts the task unless one with the same name exists
func (s *Storage) CreateTaskIfMissing(ctx context.Context, task *domain.ScheduledTask) (bool, error) {
	query := `
		INSERT INTO scheduled_tasks (
			name, job_type, frequency, priority, next_run, status, is_active, parameters, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9
		)
		ON CONFLICT (name) DO NOTHING
	`

	params := string(task.Parameters)
	if params == "" {
		params = "{}"
	}

	result, err := s.db.ExecContext(ctx, query,
		task.Name, task.Kind, task.Frequency, task.Priority, task.NextRun,
		domain.TaskStatusIdle, task.IsActive, params, task.NextRun)
	if err != nil {
		return false, fmt.Errorf("failed to create task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// AcquireTask marks a task running unless another run holds an unexpired lock.
// When expectedNextRun is set the task must still be scheduled for that time,
// so a tick working from a stale read cannot run a period twice.
func (s *Storage) AcquireTask(ctx context.Context, taskID int64, expectedNextRun *time.Time, now, lockUntil time.Time) (bool, error) {
	query := `
		UPDATE scheduled_tasks
		SET status = $1,
		    locked_until = $2,
		    updated_at = $3
		WHERE id = $4
		  AND (status <> $1 OR locked_until IS NULL OR locked_until <= $3)
		  AND ($5::timestamptz IS NULL OR next_run = $5)
	`

	result, err := s.db.ExecContext(ctx, query, domain.TaskStatusRunning, lockUntil, now, taskID, expectedNextRun)
	if err != nil {
		return false, fmt.Errorf("failed to acquire task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// FinishTask releases the lock and records the outcome. Nil run times are left unchanged.
func (s *Storage) FinishTask(ctx context.Context, taskID int64, status domain.TaskStatus, lastRun, nextRun *time.Time, now time.Time) error {
	query := `
		UPDATE scheduled_tasks
		SET status = $1,
		    last_run = COALESCE($2, last_run),
		    next_run = COALESCE($3, next_run),
		    locked_until = NULL,
		    updated_at = $4
		WHERE id = $5
	`

	if _, err := s.db.ExecContext(ctx, query, status, lastRun, nextRun, now, taskID); err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	return nil
}

// StartExecution records the beginning of a task run
func (s *Storage) StartExecution(ctx context.Context, exec *domain.TaskExecution) error {
	query := `
		INSERT INTO task_executions (task_id, status, triggered_by, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if err := s.db.GetContext(ctx, &exec.ID, query,
		exec.TaskID, exec.Status, exec.TriggeredBy, exec.StartedAt); err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}
	return nil
}

// FinishExecution stores the outcome of a task run
func (s *Storage) FinishExecution(ctx context.Context, exec *domain.TaskExecution) error {
	query := `
		UPDATE task_executions
		SET status = $1,
		    jobs_enqueued = $2,
		    error_message = $3,
		    completed_at = $4
		WHERE id = $5
	`

	if _, err := s.db.ExecContext(ctx, query,
		exec.Status, exec.JobsEnqueued, exec.ErrorMessage, exec.CompletedAt, exec.ID); err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	return nil
}

// TaskStats aggregates the execution history of a task
func (s *Storage) TaskStats(ctx context.Context, taskID int64) (domain.TaskStats, error) {
	query := `
		SELECT
			COUNT(*) AS executions,
			COUNT(*) FILTER (WHERE status = 'completed') AS succeeded,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			MAX(started_at) AS last_run_at,
			(SELECT error_message FROM task_executions
			  WHERE task_id = $1 AND status = 'failed'
			  ORDER BY started_at DESC LIMIT 1) AS last_error,
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))), 0) AS avg_duration_seconds
		FROM task_executions
		WHERE task_id = $1
	`

	var stats domain.TaskStats
	if err := s.db.GetContext(ctx, &stats, query, taskID); err != nil {
		return domain.TaskStats{}, fmt.Errorf("failed to get task stats: %w", err)
	}
	return stats, nil
}
