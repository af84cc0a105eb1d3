package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// unit is a single job or all claimed members of one batch
type unit struct {
	batchID string
	jobs    []*domain.Job
}

// runPool spawns up to Concurrency goroutines and feeds them units until the
// list is exhausted or ctx is cancelled.
func (w *Worker) runPool(ctx context.Context, units []unit) DrainResult {
	workers := w.cfg.Concurrency
	if len(units) < workers {
		workers = len(units)
	}

	w.logger.Debug("Spawning worker pool",
		slog.Int("concurrency", workers),
		slog.Int("units", len(units)),
	)

	unitsChan := make(chan unit)
	var (
		mu     sync.Mutex
		result DrainResult
		wg     sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			r := w.workerLoop(ctx, workerNum, unitsChan)

			mu.Lock()
			result.add(r)
			mu.Unlock()
		}(i)
	}

	var abandoned []unit
feed:
	for i, u := range units {
		if ctx.Err() != nil {
			abandoned = units[i:]
			break
		}
		select {
		case unitsChan <- u:
		case <-ctx.Done():
			abandoned = units[i:]
			break feed
		}
	}
	close(unitsChan)
	wg.Wait()

	for _, u := range abandoned {
		result.Released += w.release(ctx, u)
	}
	return result
}

// workerLoop is the main processing loop for each pool goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int, units <-chan unit) DrainResult {
	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	var result DrainResult

	for u := range units {
		// cooperative checkpoint before each unit
		if ctx.Err() != nil {
			result.Released += w.release(ctx, u)
			continue
		}

		if u.batchID != "" {
			result.Batches++
			if err := w.processBatch(ctx, u.jobs); err != nil {
				result.Failed += len(u.jobs)
			} else {
				result.Succeeded += len(u.jobs)
			}
			continue
		}

		job := u.jobs[0]
		w.logger.Debug("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID),
		)
		if err := w.processJob(ctx, job); err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	return result
}

// release returns claimed jobs that were never started to pending
func (w *Worker) release(ctx context.Context, u unit) int {
	ids := make([]string, len(u.jobs))
	for i, j := range u.jobs {
		ids[i] = j.ID
	}

	if err := w.queue.Release(context.WithoutCancel(ctx), ids); err != nil {
		w.logger.Error("Failed to release unstarted jobs",
			slog.Any("job_ids", ids),
			slog.String("error", err.Error()),
		)
		return 0
	}
	w.logger.Debug("Released unstarted jobs",
		slog.Any("job_ids", ids),
		slog.String("reason", ctx.Err().Error()),
	)
	return len(ids)
}
