// Package worker executes claimed jobs through a handler registry on a
// bounded goroutine pool.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/google/uuid"
)

// Queue is the part of the job queue the worker drives
type Queue interface {
	Dequeue(ctx context.Context, limit int) ([]*domain.Job, error)
	ClaimBatch(ctx context.Context, batchID string) ([]*domain.Job, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, cause error) error
	CompleteBatch(ctx context.Context, ids []string) error
	FailBatch(ctx context.Context, ids []string, cause error) error
	Release(ctx context.Context, ids []string) error
}

// Handler executes one job type
type Handler interface {
	Execute(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *domain.Job) error

func (f HandlerFunc) Execute(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// BatchHandler is implemented by handlers that can execute a whole batch in one call
type BatchHandler interface {
	ExecuteBatch(ctx context.Context, jobs []*domain.Job) error
}

// Config holds worker configuration
type Config struct {
	Concurrency  int
	JobTimeout   time.Duration
	PollInterval time.Duration
	DrainLimit   int
}

// Default worker settings
const (
	DefaultConcurrency  = 4
	DefaultJobTimeout   = 5 * time.Minute
	DefaultPollInterval = 10 * time.Second
	DefaultDrainLimit   = 50
)

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DrainLimit <= 0 {
		c.DrainLimit = DefaultDrainLimit
	}
	return c
}

// DrainResult summarizes one drain
type DrainResult struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Released  int `json:"released"`
	Batches   int `json:"batches"`
}

func (r *DrainResult) add(other DrainResult) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Released += other.Released
	r.Batches += other.Batches
}

// Worker represents the background job worker
type Worker struct {
	logger   *slog.Logger
	queue    Queue
	cfg      Config
	workerID string

	mu       sync.RWMutex
	handlers map[domain.JobType]Handler

	wake     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(queue Queue, cfg Config, logger *slog.Logger) *Worker {
	workerID := "worker-" + uuid.NewString()[:8]
	return &Worker{
		logger:   logger.With(slog.String("worker_id", workerID)),
		queue:    queue,
		cfg:      cfg.withDefaults(),
		workerID: workerID,
		handlers: make(map[domain.JobType]Handler),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// ID identifies this worker in logs and as the broker consumer tag
func (w *Worker) ID() string {
	return w.workerID
}

// Register adds or replaces the handler of a job type
func (w *Worker) Register(jobType domain.JobType, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

func (w *Worker) handler(jobType domain.JobType) (Handler, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h, ok := w.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoHandler, jobType)
	}
	return h, nil
}

// Drain claims up to limit jobs and runs them on the pool. Jobs of the same
// batch run together as one unit. Cancelling ctx stops new jobs from
// starting; claimed jobs that never started are failed so the retry sweep
// picks them up again.
func (w *Worker) Drain(ctx context.Context, limit int) (DrainResult, error) {
	if limit <= 0 {
		limit = w.cfg.DrainLimit
	}

	jobs, err := w.queue.Dequeue(ctx, limit)
	if err != nil {
		return DrainResult{}, err
	}
	if len(jobs) == 0 {
		return DrainResult{}, nil
	}

	units, claimed, err := w.groupUnits(ctx, jobs)
	if err != nil {
		return DrainResult{}, err
	}

	result := w.runPool(ctx, units)
	result.Claimed = claimed

	w.logger.Info("Drain finished",
		slog.Int("claimed", result.Claimed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("released", result.Released),
		slog.Int("batches", result.Batches),
	)
	return result, ctx.Err()
}

// groupUnits folds batch members into one unit each and claims the members
// Dequeue did not pick up.
func (w *Worker) groupUnits(ctx context.Context, jobs []*domain.Job) ([]unit, int, error) {
	var units []unit
	batches := make(map[string]int)
	claimed := len(jobs)

	for _, job := range jobs {
		if job.BatchID == nil {
			units = append(units, unit{jobs: []*domain.Job{job}})
			continue
		}
		batchID := *job.BatchID
		if idx, ok := batches[batchID]; ok {
			units[idx].jobs = append(units[idx].jobs, job)
			continue
		}
		batches[batchID] = len(units)
		units = append(units, unit{batchID: batchID, jobs: []*domain.Job{job}})
	}

	for batchID, idx := range batches {
		rest, err := w.queue.ClaimBatch(ctx, batchID)
		if err != nil {
			w.logger.Error("Failed to claim batch members",
				slog.String("batch_id", batchID),
				slog.String("error", err.Error()),
			)
			continue
		}
		units[idx].jobs = append(units[idx].jobs, rest...)
		claimed += len(rest)
	}
	return units, claimed, nil
}

// ProcessBatch executes already claimed jobs as one unit. Every job must be
// processing and share the job type and marketplace; the jobs complete or
// fail together.
func (w *Worker) ProcessBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := w.queue.Get(ctx, id)
		if err != nil {
			return err
		}
		if job.Status != domain.JobStatusProcessing {
			return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.Status)
		}
		if len(jobs) > 0 && (job.Type != jobs[0].Type || job.Marketplace != jobs[0].Marketplace) {
			return fmt.Errorf("%w: job %s does not match the batch", domain.ErrInvalidPayload, id)
		}
		jobs = append(jobs, job)
	}

	if err := w.processBatch(ctx, jobs); err != nil {
		return err
	}
	return nil
}

// Start runs the worker until ctx is cancelled or Stop is called. The queue
// is drained on every poll interval and whenever a wake-up arrives.
func (w *Worker) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Duration("job_timeout", w.cfg.JobTimeout),
		slog.Duration("poll_interval", w.cfg.PollInterval),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.drainAll(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		case <-w.stopChan:
			w.logger.Info("Worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
			w.logger.Debug("Worker woken up")
		}
	}
}

// drainAll keeps draining while full pages come back
func (w *Worker) drainAll(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-w.stopChan:
			return
		default:
		}

		result, err := w.Drain(ctx, w.cfg.DrainLimit)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("Drain failed", slog.String("error", err.Error()))
			}
			return
		}
		if result.Claimed < w.cfg.DrainLimit {
			return
		}
	}
}

// Wake requests an immediate drain. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop gracefully stops the worker. In-flight jobs finish first.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
}
