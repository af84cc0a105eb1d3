package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// DueTasks returns active tasks whose next run is not after now
func (m *Store) DueTasks(_ context.Context, now time.Time) ([]*domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.ScheduledTask
	for _, t := range m.tasks {
		if t.IsActive && !t.NextRun.After(now) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		if !out[a].NextRun.Equal(out[b].NextRun) {
			return out[a].NextRun.Before(out[b].NextRun)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

// ListTasks returns every task ordered by name
func (m *Store) ListTasks(_ context.Context) ([]*domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// GetTaskByName looks a task up by name
func (m *Store) GetTaskByName(_ context.Context, name string) (*domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tasks {
		if t.Name == name {
			return cloneTask(t), nil
		}
	}
	return nil, domain.ErrTaskNotFound
}

// CreateTaskIfMissing inserts the task unless the name is taken
func (m *Store) CreateTaskIfMissing(_ context.Context, task *domain.ScheduledTask) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.Name == task.Name {
			return false, nil
		}
	}
	m.taskSeq++
	task.ID = m.taskSeq
	if task.Status == "" {
		task.Status = domain.TaskStatusIdle
	}
	m.tasks[task.ID] = cloneTask(task)
	return true, nil
}

// AcquireTask marks a task running unless another run holds an unexpired lock
// or next_run no longer matches expectedNextRun.
func (m *Store) AcquireTask(_ context.Context, taskID int64, expectedNextRun *time.Time, now, lockUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return false, domain.ErrTaskNotFound
	}
	if t.Status == domain.TaskStatusRunning && t.LockedUntil != nil && t.LockedUntil.After(now) {
		return false, nil
	}
	if expectedNextRun != nil && !t.NextRun.Equal(*expectedNextRun) {
		return false, nil
	}
	t.Status = domain.TaskStatusRunning
	t.LockedUntil = timePtr(lockUntil)
	t.UpdatedAt = now
	return true, nil
}

// FinishTask releases the lock and records the outcome. Nil run times are left unchanged.
func (m *Store) FinishTask(_ context.Context, taskID int64, status domain.TaskStatus, lastRun, nextRun *time.Time, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	t.Status = status
	if lastRun != nil {
		t.LastRun = timePtr(*lastRun)
	}
	if nextRun != nil {
		t.NextRun = *nextRun
	}
	t.LockedUntil = nil
	t.UpdatedAt = now
	return nil
}

// StartExecution records the beginning of a task run
func (m *Store) StartExecution(_ context.Context, exec *domain.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.execSeq++
	exec.ID = m.execSeq
	c := *exec
	m.execs = append(m.execs, &c)
	return nil
}

// FinishExecution stores the outcome of a task run
func (m *Store) FinishExecution(_ context.Context, exec *domain.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.execs {
		if e.ID == exec.ID {
			e.Status = exec.Status
			e.JobsEnqueued = exec.JobsEnqueued
			e.ErrorMessage = exec.ErrorMessage
			e.CompletedAt = exec.CompletedAt
			return nil
		}
	}
	return nil
}

// TaskStats aggregates the execution history of a task
func (m *Store) TaskStats(_ context.Context, taskID int64) (domain.TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats domain.TaskStats
	var total time.Duration
	var finished int
	for _, e := range m.execs {
		if e.TaskID != taskID {
			continue
		}
		stats.Executions++
		switch e.Status {
		case domain.TaskStatusCompleted:
			stats.Succeeded++
		case domain.TaskStatusFailed:
			stats.Failed++
			stats.LastError = e.ErrorMessage
		}
		if stats.LastRunAt == nil || e.StartedAt.After(*stats.LastRunAt) {
			stats.LastRunAt = timePtr(e.StartedAt)
		}
		if e.CompletedAt != nil {
			total += e.CompletedAt.Sub(e.StartedAt)
			finished++
		}
	}
	if finished > 0 {
		stats.AvgDuration = (total / time.Duration(finished)).Seconds()
	}
	return stats, nil
}

// Executions returns a copy of the execution history, oldest first
func (m *Store) Executions() []domain.TaskExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.TaskExecution, len(m.execs))
	for i, e := range m.execs {
		out[i] = *e
	}
	return out
}
