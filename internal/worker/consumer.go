package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/marketsync/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource starts a broker consumer
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// ConsumeWakeups listens for enqueue notifications and wakes the worker. The
// broker only carries wake-ups; jobs are always claimed from the database.
func (w *Worker) ConsumeWakeups(ctx context.Context, source DeliverySource) error {
	deliveries, err := source.Consume(w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started", slog.String("consumer_tag", w.workerID))
	w.dispatchWakeups(ctx, deliveries)
	return nil
}

func (w *Worker) dispatchWakeups(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := queue.DecodeEnqueuedMessage(delivery.Body)
			if err != nil {
				w.logger.Error("Failed to parse message JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the dead letter queue
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message", slog.String("error", nackErr.Error()))
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
			}

			w.logger.Debug("Enqueue notification received",
				slog.String("job_type", string(msg.JobType)),
				slog.Int("jobs", len(msg.JobIDs)),
			)
			w.Wake()
		}
	}
}
