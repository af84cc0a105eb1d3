package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// DefaultTasks is the task set seeded on first start
func DefaultTasks() []domain.ScheduledTask {
	return []domain.ScheduledTask{
		{Name: "system_health_check", Kind: domain.TaskHealthCheck, Frequency: domain.FrequencyHourly, Priority: domain.PriorityHigh},
		{Name: "product_sync", Kind: domain.TaskProductSync, Frequency: domain.FrequencyHourly, Priority: domain.PriorityNormal,
			Parameters: json.RawMessage(`{"batch_size":50}`)},
		{Name: "order_sync", Kind: domain.TaskOrderSync, Frequency: domain.FrequencyHourly, Priority: domain.PriorityHigh},
		{Name: "stock_update", Kind: domain.TaskStockUpdate, Frequency: domain.FrequencyHourly, Priority: domain.PriorityHigh,
			Parameters: json.RawMessage(`{"batch_size":100,"batch":false}`)},
		{Name: "price_update", Kind: domain.TaskPriceUpdate, Frequency: domain.FrequencyHourly, Priority: domain.PriorityNormal,
			Parameters: json.RawMessage(`{"batch_size":100}`)},
		{Name: "log_cleanup", Kind: domain.TaskLogCleanup, Frequency: domain.FrequencyDaily, Priority: domain.PriorityLow,
			Parameters: json.RawMessage(`{"retention_days":30,"health_retention_days":7}`)},
		{Name: "retry_sweep", Kind: domain.TaskRetrySweep, Frequency: domain.FrequencyMinute, Priority: domain.PriorityCritical},
		{Name: "alert_evaluation", Kind: domain.TaskAlertEvaluation, Frequency: domain.FrequencyMinute, Priority: domain.PriorityHigh},
	}
}

// EnsureDefaults seeds DefaultTasks that do not exist yet. New tasks are due immediately.
func (s *Scheduler) EnsureDefaults(ctx context.Context) (int, error) {
	now := s.now()
	created := 0
	for _, t := range DefaultTasks() {
		task := t
		task.NextRun = now
		task.Status = domain.TaskStatusIdle
		task.IsActive = true
		task.UpdatedAt = now
		if task.Parameters == nil {
			task.Parameters = json.RawMessage(`{}`)
		}

		ok, err := s.store.CreateTaskIfMissing(ctx, &task)
		if err != nil {
			return created, fmt.Errorf("failed to seed task %s: %w", task.Name, err)
		}
		if ok {
			created++
			s.logger.Info("Scheduled task created", slog.String("task", task.Name))
		}
	}
	return created, nil
}

var actionTasks = map[string][]string{
	"import_orders": {"order_sync"},
	"sync_orders":   {"order_sync"},
	"sync_products": {"product_sync"},
	"sync_stock":    {"stock_update"},
	"all":           {"product_sync", "stock_update", "order_sync"},
}

// ActionTasks returns the default tasks an external cron action runs
func ActionTasks(action string) ([]string, bool) {
	tasks, ok := actionTasks[action]
	return tasks, ok
}
