package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// processJob runs one claimed job with a timeout and records the outcome
func (w *Worker) processJob(ctx context.Context, job *domain.Job) error {
	logger := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("marketplace", job.Marketplace),
	)
	logger.Info("Processing job", slog.Int("attempt", job.Attempts+1))

	start := time.Now()
	err := w.execute(ctx, func(jobCtx context.Context) error {
		h, err := w.handler(job.Type)
		if err != nil {
			return err
		}
		return h.Execute(jobCtx, job)
	})

	// status writes must land even when the drain was cancelled
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("Job execution failed",
			slog.Duration("duration", time.Since(start)),
			slog.Bool("retryable", domain.IsRetryable(err)),
			slog.String("error", err.Error()),
		)
		if updateErr := w.queue.MarkFailed(finishCtx, job.ID, err); updateErr != nil {
			logger.Error("Failed to update job status to failed", slog.String("error", updateErr.Error()))
		}
		if job.Attempts+1 >= job.MaxAttempts {
			logger.Warn("Job exceeded max retries",
				slog.Int("attempts", job.Attempts+1),
				slog.Int("max_attempts", job.MaxAttempts),
			)
		}
		return err
	}

	if updateErr := w.queue.MarkCompleted(finishCtx, job.ID); updateErr != nil {
		logger.Error("Failed to update job status to completed", slog.String("error", updateErr.Error()))
		return updateErr
	}
	logger.Info("Job completed successfully", slog.Duration("duration", time.Since(start)))
	return nil
}

// processBatch runs batch members as one unit. A BatchHandler gets a single
// call; other handlers run member by member and stop at the first failure.
func (w *Worker) processBatch(ctx context.Context, jobs []*domain.Job) error {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	logger := w.logger.With(
		slog.String("job_type", string(jobs[0].Type)),
		slog.String("marketplace", jobs[0].Marketplace),
		slog.Int("size", len(jobs)),
	)
	if jobs[0].BatchID != nil {
		logger = logger.With(slog.String("batch_id", *jobs[0].BatchID))
	}
	logger.Info("Processing batch")

	err := w.execute(ctx, func(jobCtx context.Context) error {
		h, err := w.handler(jobs[0].Type)
		if err != nil {
			return err
		}
		if bh, ok := h.(BatchHandler); ok {
			return bh.ExecuteBatch(jobCtx, jobs)
		}
		for _, job := range jobs {
			if err := h.Execute(jobCtx, job); err != nil {
				return fmt.Errorf("job %s: %w", job.ID, err)
			}
		}
		return nil
	})

	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("Batch failed", slog.String("error", err.Error()))
		if updateErr := w.queue.FailBatch(finishCtx, ids, err); updateErr != nil {
			logger.Error("Failed to fail batch", slog.String("error", updateErr.Error()))
		}
		return err
	}

	if updateErr := w.queue.CompleteBatch(finishCtx, ids); updateErr != nil {
		logger.Error("Failed to complete batch", slog.String("error", updateErr.Error()))
		return updateErr
	}
	logger.Info("Batch completed")
	return nil
}

// execute runs fn under the job timeout. The timeout context is detached from
// ctx so in-flight work finishes or times out during shutdown. Panics become
// job failures.
func (w *Worker) execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	err = fn(jobCtx)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) && !domain.IsRetryable(err) {
		err = domain.NewRetryableError(fmt.Errorf("exceeded job timeout %s: %w", w.cfg.JobTimeout, err))
	}
	return err
}
