package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// Publisher is the subset of the RabbitMQ client the notifier needs
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// EnqueuedMessage is the wake-up message published after an enqueue.
// The database row stays the source of truth; workers only use it as a hint.
type EnqueuedMessage struct {
	JobIDs     []string       `json:"job_ids"`
	JobType    domain.JobType `json:"job_type"`
	BatchID    string         `json:"batch_id,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// BrokerNotifier publishes EnqueuedMessage to the message broker
type BrokerNotifier struct {
	publisher Publisher
}

// NewBrokerNotifier creates a notifier backed by a publisher
func NewBrokerNotifier(p Publisher) *BrokerNotifier {
	return &BrokerNotifier{publisher: p}
}

func (n *BrokerNotifier) NotifyEnqueued(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	msg := EnqueuedMessage{
		JobIDs:     make([]string, 0, len(jobs)),
		JobType:    jobs[0].Type,
		EnqueuedAt: jobs[0].CreatedAt,
	}
	if jobs[0].InBatch() {
		msg.BatchID = *jobs[0].BatchID
	}
	for _, j := range jobs {
		msg.JobIDs = append(msg.JobIDs, j.ID)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal enqueue message: %w", err)
	}
	return n.publisher.PublishWithRetry(ctx, body, "application/json")
}

// DecodeEnqueuedMessage parses a wake-up message body
func DecodeEnqueuedMessage(body []byte) (EnqueuedMessage, error) {
	var msg EnqueuedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode enqueue message: %w", err)
	}
	return msg, nil
}
