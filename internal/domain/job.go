package domain

import (
	"encoding/json"
	"time"
)

// JobType identifies the kind of work a job carries
type JobType string

const (
	JobTypeProductSync  JobType = "product_sync"
	JobTypeOrderSync    JobType = "order_sync"
	JobTypeStockUpdate  JobType = "stock_update"
	JobTypePriceUpdate  JobType = "price_update"
	JobTypeSendAlert    JobType = "send_alert"
	JobTypeWebhookEvent JobType = "webhook_event"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job priorities. Higher runs first.
const (
	PriorityLow      = 1
	PriorityNormal   = 5
	PriorityHigh     = 8
	PriorityCritical = 10
)

// DefaultMaxAttempts is used when a job is enqueued without an explicit limit
const DefaultMaxAttempts = 3

// Job is a unit of work owned by the job queue
type Job struct {
	ID           string          `db:"id" json:"id"`
	Seq          int64           `db:"seq" json:"-"`
	Type         JobType         `db:"type" json:"type"`
	Marketplace  string          `db:"marketplace" json:"marketplace"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Priority     int             `db:"priority" json:"priority"`
	Status       JobStatus       `db:"status" json:"status"`
	Attempts     int             `db:"attempts" json:"attempts"`
	MaxAttempts  int             `db:"max_attempts" json:"max_attempts"`
	BatchID      *string         `db:"batch_id" json:"batch_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	StartedAt    *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
}

// Retryable reports whether the job still has attempts left
func (j *Job) Retryable() bool {
	return j.Attempts < j.MaxAttempts
}

// InBatch reports whether the job is a member of a batch
func (j *Job) InBatch() bool {
	return j.BatchID != nil && *j.BatchID != ""
}

// JobFilter narrows job listings
type JobFilter struct {
	Type        JobType
	Status      JobStatus
	Marketplace string
	PageSize    int
	Cursor      *JobCursor
}

// JobCursor is the keyset position for paginated listings (created_at DESC, id DESC)
type JobCursor struct {
	CreatedAt time.Time
	ID        string
}

// QueueStats summarizes the queue for health checks and alert metrics
type QueueStats struct {
	Pending           int `db:"pending" json:"pending"`
	Processing        int `db:"processing" json:"processing"`
	Completed         int `db:"completed" json:"completed"`
	Failed            int `db:"failed" json:"failed"`
	StuckProcessing   int `db:"stuck_processing" json:"stuck_processing"`
	RecentTotal       int `db:"recent_total" json:"recent_total"`
	RecentFailed      int `db:"recent_failed" json:"recent_failed"`
	PermanentlyFailed int `db:"permanently_failed" json:"permanently_failed"`
}

// ErrorRate returns the percentage of recent jobs that failed
func (s QueueStats) ErrorRate() float64 {
	if s.RecentTotal == 0 {
		return 0
	}
	return float64(s.RecentFailed) / float64(s.RecentTotal) * 100
}

// Depth is the number of jobs waiting or running
func (s QueueStats) Depth() int {
	return s.Pending + s.Processing
}
