package domain

import "time"

// ProductSyncState tracks what a marketplace last received for a product
type ProductSyncState struct {
	ProductID     string     `db:"product_id" json:"product_id"`
	Marketplace   string     `db:"marketplace" json:"marketplace"`
	LocalStock    int        `db:"local_stock" json:"local_stock"`
	SyncedStock   *int       `db:"synced_stock" json:"synced_stock,omitempty"`
	LocalPrice    float64    `db:"local_price" json:"local_price"`
	SyncedPrice   *float64   `db:"synced_price" json:"synced_price,omitempty"`
	LastSync      *time.Time `db:"last_sync" json:"last_sync,omitempty"`
	LastStockSync *time.Time `db:"last_stock_sync" json:"last_stock_sync,omitempty"`
	LastPriceSync *time.Time `db:"last_price_sync" json:"last_price_sync,omitempty"`
}

// Order is the minimal imported order record used for volume metrics
type Order struct {
	Marketplace string    `db:"marketplace" json:"marketplace"`
	ExternalID  string    `db:"external_id" json:"external_id"`
	Status      string    `db:"status" json:"status"`
	Total       float64   `db:"total" json:"total"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// LogEntry is a row of the retention-managed logs table
type LogEntry struct {
	Channel   string    `db:"channel" json:"channel"`
	Level     string    `db:"level" json:"level"`
	Message   string    `db:"message" json:"message"`
	Context   []byte    `db:"context" json:"context,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Log channels
const (
	LogChannelHealth = "health"
	LogChannelSync   = "sync"
)

// WebhookStatus is the processing outcome of an inbound webhook
type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
	WebhookRejected  WebhookStatus = "rejected"
)

// WebhookLog records an inbound webhook delivery
type WebhookLog struct {
	Marketplace string        `db:"marketplace" json:"marketplace"`
	EventType   string        `db:"event_type" json:"event_type"`
	EventID     string        `db:"event_id" json:"event_id"`
	Status      WebhookStatus `db:"status" json:"status"`
	Payload     string        `db:"payload" json:"payload,omitempty"`
	Error       *string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// RetentionPolicy lists cutoffs for the cleanup sweep
type RetentionPolicy struct {
	Logs              time.Time
	HealthLogs        time.Time
	WebhooksProcessed time.Time
	WebhooksFailed    time.Time
	AlertEvents       time.Time
	TaskExecutions    time.Time
}

// CleanupResult counts deleted rows per table
type CleanupResult struct {
	Logs           int64 `json:"logs"`
	HealthLogs     int64 `json:"health_logs"`
	WebhookLogs    int64 `json:"webhook_logs"`
	AlertEvents    int64 `json:"alert_events"`
	TaskExecutions int64 `json:"task_executions"`
	Jobs           int64 `json:"jobs"`
}

// Total sums all deleted rows
func (r CleanupResult) Total() int64 {
	return r.Logs + r.HealthLogs + r.WebhookLogs + r.AlertEvents + r.TaskExecutions + r.Jobs
}
