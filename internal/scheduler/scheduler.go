// Package scheduler runs due scheduled tasks. Each task kind has a Producer
// that enqueues jobs or performs maintenance.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// DefaultLockTTL bounds how long a crashed run keeps a task locked
const DefaultLockTTL = 30 * time.Minute

// Store is the persistence the scheduler needs
type Store interface {
	DueTasks(ctx context.Context, now time.Time) ([]*domain.ScheduledTask, error)
	ListTasks(ctx context.Context) ([]*domain.ScheduledTask, error)
	GetTaskByName(ctx context.Context, name string) (*domain.ScheduledTask, error)
	CreateTaskIfMissing(ctx context.Context, task *domain.ScheduledTask) (bool, error)
	AcquireTask(ctx context.Context, taskID int64, expectedNextRun *time.Time, now, lockUntil time.Time) (bool, error)
	FinishTask(ctx context.Context, taskID int64, status domain.TaskStatus, lastRun, nextRun *time.Time, now time.Time) error
	StartExecution(ctx context.Context, exec *domain.TaskExecution) error
	FinishExecution(ctx context.Context, exec *domain.TaskExecution) error
	TaskStats(ctx context.Context, taskID int64) (domain.TaskStats, error)
}

// Producer runs one task and returns how many jobs it enqueued
type Producer interface {
	Produce(ctx context.Context, task *domain.ScheduledTask) (int, error)
}

// ProducerFunc adapts a function to Producer
type ProducerFunc func(ctx context.Context, task *domain.ScheduledTask) (int, error)

func (f ProducerFunc) Produce(ctx context.Context, task *domain.ScheduledTask) (int, error) {
	return f(ctx, task)
}

// TaskResult is the outcome of one task run
type TaskResult struct {
	Task         string          `json:"task"`
	Kind         domain.TaskKind `json:"kind"`
	JobsEnqueued int             `json:"jobs_enqueued"`
	Skipped      bool            `json:"skipped,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// TickResult summarizes one tick
type TickResult struct {
	Due          int          `json:"due"`
	Executed     int          `json:"executed"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	JobsEnqueued int          `json:"jobs_enqueued"`
	Tasks        []TaskResult `json:"tasks"`
}

// Scheduler evaluates scheduled tasks
type Scheduler struct {
	store     Store
	producers map[domain.TaskKind]Producer
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLockTTL overrides DefaultLockTTL
func WithLockTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithProducer registers the producer of a task kind
func WithProducer(kind domain.TaskKind, p Producer) Option {
	return func(s *Scheduler) { s.producers[kind] = p }
}

// New creates a Scheduler
func New(store Store, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		producers: make(map[domain.TaskKind]Producer),
		lockTTL:   DefaultLockTTL,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds or replaces the producer of a task kind
func (s *Scheduler) Register(kind domain.TaskKind, p Producer) {
	s.producers[kind] = p
}

// Tick runs every active task whose next run is due. On success last_run
// becomes the previous next_run and next_run moves one period past it, so
// late ticks do not drift the schedule. Failed tasks keep their next_run.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	tasks, err := s.store.DueTasks(ctx, now)
	if err != nil {
		return TickResult{}, fmt.Errorf("failed to load due tasks: %w", err)
	}

	result := TickResult{Due: len(tasks), Tasks: make([]TaskResult, 0, len(tasks))}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Tick interrupted", slog.Int("remaining", len(tasks)-result.Executed-result.Skipped))
			return result, err
		}

		tr := s.run(ctx, task, domain.TriggerCron, now)
		result.Tasks = append(result.Tasks, tr)
		switch {
		case tr.Skipped:
			result.Skipped++
		case tr.Error != "":
			result.Executed++
			result.Failed++
		default:
			result.Executed++
			result.JobsEnqueued += tr.JobsEnqueued
		}
	}

	if result.Due > 0 {
		s.logger.Info("Scheduler tick finished",
			slog.Int("due", result.Due),
			slog.Int("executed", result.Executed),
			slog.Int("failed", result.Failed),
			slog.Int("skipped", result.Skipped),
			slog.Int("jobs_enqueued", result.JobsEnqueued),
		)
	}
	return result, nil
}

// RunOption adjusts a manual run
type RunOption func(params domain.TaskParams)

// WithParam overrides one task parameter for a manual run
func WithParam(key string, value any) RunOption {
	return func(params domain.TaskParams) { params[key] = value }
}

// RunTask runs a task immediately. next_run and last_run are left unchanged.
func (s *Scheduler) RunTask(ctx context.Context, name string, opts ...RunOption) (TaskResult, error) {
	task, err := s.store.GetTaskByName(ctx, name)
	if err != nil {
		return TaskResult{}, err
	}
	if len(opts) > 0 {
		params := task.Params()
		for _, opt := range opts {
			opt(params)
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return TaskResult{}, fmt.Errorf("failed to encode task parameters: %w", err)
		}
		task.Parameters = raw
	}

	tr := s.run(ctx, task, domain.TriggerManual, s.now())
	if tr.Skipped {
		return tr, fmt.Errorf("%w: %s", domain.ErrTaskLocked, name)
	}
	if tr.Error != "" {
		return tr, errors.New(tr.Error)
	}
	return tr, nil
}

// TaskStats aggregates the execution history of a task
func (s *Scheduler) TaskStats(ctx context.Context, name string) (domain.TaskStats, error) {
	task, err := s.store.GetTaskByName(ctx, name)
	if err != nil {
		return domain.TaskStats{}, err
	}
	return s.store.TaskStats(ctx, task.ID)
}

// Tasks lists every scheduled task
func (s *Scheduler) Tasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.store.ListTasks(ctx)
}

func (s *Scheduler) run(ctx context.Context, task *domain.ScheduledTask, trigger domain.Trigger, now time.Time) TaskResult {
	tr := TaskResult{Task: task.Name, Kind: task.Kind}
	logger := s.logger.With(
		slog.String("task", task.Name),
		slog.String("kind", string(task.Kind)),
		slog.String("trigger", string(trigger)),
	)

	// cron runs claim the period they loaded, manual runs claim any
	var expected *time.Time
	if trigger == domain.TriggerCron {
		expected = &task.NextRun
	}
	acquired, err := s.store.AcquireTask(ctx, task.ID, expected, now, now.Add(s.lockTTL))
	if err != nil {
		tr.Error = fmt.Sprintf("failed to acquire task: %v", err)
		logger.Error("Failed to acquire task", slog.String("error", err.Error()))
		return tr
	}
	if !acquired {
		tr.Skipped = true
		logger.Debug("Task is locked or already ran this period")
		return tr
	}

	exec := &domain.TaskExecution{
		TaskID:      task.ID,
		Status:      domain.TaskStatusRunning,
		TriggeredBy: trigger,
		StartedAt:   s.now(),
	}
	if err := s.store.StartExecution(ctx, exec); err != nil {
		logger.Error("Failed to record task execution", slog.String("error", err.Error()))
	}

	count, runErr := s.produce(ctx, task)
	tr.JobsEnqueued = count

	var (
		status  = domain.TaskStatusCompleted
		lastRun *time.Time
		nextRun *time.Time
	)
	if runErr == nil && trigger == domain.TriggerCron {
		last := task.NextRun
		next, err := task.Frequency.Next(last)
		if err != nil {
			runErr = err
		} else {
			lastRun, nextRun = &last, &next
		}
	}
	if runErr != nil {
		status = domain.TaskStatusFailed
		tr.Error = runErr.Error()
	}

	// the lock must be released even when the tick context is gone
	finishCtx := context.WithoutCancel(ctx)
	if err := s.store.FinishTask(finishCtx, task.ID, status, lastRun, nextRun, s.now()); err != nil {
		logger.Error("Failed to update task", slog.String("error", err.Error()))
	}

	completed := s.now()
	exec.Status = status
	exec.JobsEnqueued = count
	exec.CompletedAt = &completed
	if runErr != nil {
		msg := runErr.Error()
		exec.ErrorMessage = &msg
	}
	if err := s.store.FinishExecution(finishCtx, exec); err != nil {
		logger.Error("Failed to finish task execution", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("Task failed", slog.String("error", runErr.Error()))
	} else {
		logger.Info("Task completed", slog.Int("jobs_enqueued", count))
	}
	return tr
}

func (s *Scheduler) produce(ctx context.Context, task *domain.ScheduledTask) (n int, err error) {
	p, ok := s.producers[task.Kind]
	if !ok {
		return 0, fmt.Errorf("%w: task kind %s", domain.ErrNoHandler, task.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer panicked: %v", r)
		}
	}()
	return p.Produce(ctx, task)
}
