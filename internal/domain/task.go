package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TaskKind selects the producer that runs for a scheduled task
type TaskKind string

const (
	TaskProductSync     TaskKind = "product_sync"
	TaskOrderSync       TaskKind = "order_sync"
	TaskStockUpdate     TaskKind = "stock_update"
	TaskPriceUpdate     TaskKind = "price_update"
	TaskHealthCheck     TaskKind = "health_check"
	TaskLogCleanup      TaskKind = "log_cleanup"
	TaskRetrySweep      TaskKind = "retry_sweep"
	TaskAlertEvaluation TaskKind = "alert_evaluation"
)

// Frequency is the period between two runs of a scheduled task
type Frequency string

const (
	FrequencyMinute  Frequency = "minute"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Next returns t advanced by one period. Monthly periods follow the calendar
// and clamp to the last day of a shorter month.
func (f Frequency) Next(t time.Time) (time.Time, error) {
	switch f {
	case FrequencyMinute:
		return t.Add(time.Minute), nil
	case FrequencyHourly:
		return t.Add(time.Hour), nil
	case FrequencyDaily:
		return t.AddDate(0, 0, 1), nil
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7), nil
	case FrequencyMonthly:
		return addMonth(t), nil
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", f)
	}
}

func addMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	// day 0 of the month after next is the last day of next month
	last := time.Date(year, month+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > last {
		day = last
	}
	hour, minute, sec := t.Clock()
	return time.Date(year, month+1, day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// TaskStatus is the outcome of the most recent run of a task
type TaskStatus string

const (
	TaskStatusIdle      TaskStatus = "idle"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ScheduledTask is a recurring producer of jobs
type ScheduledTask struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Kind        TaskKind        `db:"job_type" json:"job_type"`
	Frequency   Frequency       `db:"frequency" json:"frequency"`
	Priority    int             `db:"priority" json:"priority"`
	NextRun     time.Time       `db:"next_run" json:"next_run"`
	LastRun     *time.Time      `db:"last_run" json:"last_run,omitempty"`
	Status      TaskStatus      `db:"status" json:"status"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	Parameters  json.RawMessage `db:"parameters" json:"parameters"`
	LockedUntil *time.Time      `db:"locked_until" json:"-"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Params decodes the task parameters as a flat object
func (t *ScheduledTask) Params() TaskParams {
	params := TaskParams{}
	if len(t.Parameters) > 0 {
		_ = json.Unmarshal(t.Parameters, &params)
	}
	return params
}

// TaskParams is the decoded parameter object of a scheduled task
type TaskParams map[string]any

// Int returns the integer parameter key or def when missing or malformed
func (p TaskParams) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the boolean parameter key or def
func (p TaskParams) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// String returns the string parameter key or def
func (p TaskParams) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Trigger records who started a task execution
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// TaskExecution is one run of a scheduled task
type TaskExecution struct {
	ID           int64      `db:"id" json:"id"`
	TaskID       int64      `db:"task_id" json:"task_id"`
	Status       TaskStatus `db:"status" json:"status"`
	TriggeredBy  Trigger    `db:"triggered_by" json:"triggered_by"`
	JobsEnqueued int        `db:"jobs_enqueued" json:"jobs_enqueued"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// TaskStats aggregates the execution history of a task
type TaskStats struct {
	Executions  int        `db:"executions" json:"executions"`
	Succeeded   int        `db:"succeeded" json:"succeeded"`
	Failed      int        `db:"failed" json:"failed"`
	LastRunAt   *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	LastError   *string    `db:"last_error" json:"last_error,omitempty"`
	AvgDuration float64    `db:"avg_duration_seconds" json:"avg_duration_seconds"`
}
