package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

type ListJobsRequest struct {
	Type        string `form:"type"`
	Status      string `form:"status"`
	Marketplace string `form:"marketplace"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Marketplace  string          `json:"marketplace,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	BatchID      string          `json:"batch_id,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    string          `json:"created_at"`
	StartedAt    string          `json:"started_at,omitempty"`
	CompletedAt  string          `json:"completed_at,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// NewJobDTO converts a job for the admin API
func NewJobDTO(job *domain.Job) JobDTO {
	d := JobDTO{
		ID:          job.ID,
		Type:        string(job.Type),
		Marketplace: job.Marketplace,
		Payload:     job.Payload,
		Priority:    job.Priority,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		StartedAt:   formatTime(job.StartedAt),
		CompletedAt: formatTime(job.CompletedAt),
	}
	if job.BatchID != nil {
		d.BatchID = *job.BatchID
	}
	if job.ErrorMessage != nil {
		d.ErrorMessage = *job.ErrorMessage
	}
	return d
}

// CronResponse is the body of every /cron reply
type CronResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	JobsEnqueued int    `json:"jobs_enqueued,omitempty"`
}

// WebhookEvent is the body marketplaces post to /webhooks/:marketplace
type WebhookEvent struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Data      json.RawMessage `json:"data"`
}

// WebhookResponse acknowledges an inbound webhook
type WebhookResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"job_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}
