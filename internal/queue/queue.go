// Package queue is the persistent job queue: priority ordered, atomically
// claimed, with retry bookkeeping.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/marketsync/internal/backoff"
	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/google/uuid"
)

// Store is the persistence the queue needs
type Store interface {
	InsertJobs(ctx context.Context, jobs []*domain.Job) error
	ClaimJobs(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error)
	ClaimBatch(ctx context.Context, batchID string, now time.Time) ([]*domain.Job, error)
	PeekJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	ClaimJob(ctx context.Context, jobID string, now time.Time) (*domain.Job, error)
	CompleteJobs(ctx context.Context, ids []string, now time.Time) error
	FailJobs(ctx context.Context, ids []string, message string, now time.Time) error
	ReleaseJobs(ctx context.Context, ids []string) error
	RetryCandidates(ctx context.Context, limit int) ([]*domain.Job, error)
	RequeueJob(ctx context.Context, jobID string) (bool, error)
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	JobStats(ctx context.Context, since, stuckBefore time.Time) (domain.QueueStats, error)
}

// Notifier is told about freshly enqueued jobs so idle workers can wake up
type Notifier interface {
	NotifyEnqueued(ctx context.Context, jobs []*domain.Job) error
}

// Config holds queue tuning
type Config struct {
	MaxAttempts int
	Backoff     backoff.Strategy
	SweepLimit  int
	StuckAfter  time.Duration
	StatsWindow time.Duration
}

// DefaultConfig matches the historical behavior: 3 attempts, fixed 5 minute cooldown
func DefaultConfig() Config {
	return Config{
		MaxAttempts: domain.DefaultMaxAttempts,
		Backoff:     backoff.NewConstant(5 * time.Minute),
		SweepLimit:  500,
		StuckAfter:  time.Hour,
		StatsWindow: time.Hour,
	}
}

// Queue is the job queue service
type Queue struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// Option configures a Queue
type Option func(*Queue)

// WithNotifier publishes enqueue notifications
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue. Zero config fields fall back to DefaultConfig.
func New(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = def.Backoff
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = def.SweepLimit
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = def.StuckAfter
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = def.StatsWindow
	}

	q := &Queue{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) newJob(jobType domain.JobType, marketplace string, payload domain.Payload, priority int, now time.Time) (*domain.Job, error) {
	if jobType == "" {
		return nil, fmt.Errorf("%w: job type is required", domain.ErrInvalidPayload)
	}
	raw, err := domain.EncodePayload(jobType, payload)
	if err != nil {
		return nil, err
	}
	return &domain.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Marketplace: marketplace,
		Payload:     raw,
		Priority:    priority,
		Status:      domain.JobStatusPending,
		MaxAttempts: q.cfg.MaxAttempts,
		CreatedAt:   now,
	}, nil
}

// Enqueue validates the payload against the job type and stores a pending job
func (q *Queue) Enqueue(ctx context.Context, jobType domain.JobType, marketplace string, payload domain.Payload, priority int) (string, error) {
	job, err := q.newJob(jobType, marketplace, payload, priority, q.now())
	if err != nil {
		return "", err
	}

	if err := q.store.InsertJobs(ctx, []*domain.Job{job}); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(jobType)),
		slog.String("marketplace", marketplace),
		slog.Int("priority", priority),
	)

	q.notify(ctx, []*domain.Job{job})
	return job.ID, nil
}

// EnqueueBatch stores jobs that execute as one unit of work. They share a batch id.
func (q *Queue) EnqueueBatch(ctx context.Context, jobType domain.JobType, marketplace string, payloads []domain.Payload, priority int) (string, []string, error) {
	if len(payloads) == 0 {
		return "", nil, fmt.Errorf("%w: batch is empty", domain.ErrInvalidPayload)
	}

	now := q.now()
	batchID := uuid.NewString()
	jobs := make([]*domain.Job, 0, len(payloads))
	ids := make([]string, 0, len(payloads))

	for _, p := range payloads {
		job, err := q.newJob(jobType, marketplace, p, priority, now)
		if err != nil {
			return "", nil, err
		}
		job.BatchID = &batchID
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}

	if err := q.store.InsertJobs(ctx, jobs); err != nil {
		return "", nil, fmt.Errorf("failed to enqueue batch: %w", err)
	}

	q.logger.Debug("Batch enqueued",
		slog.String("batch_id", batchID),
		slog.String("job_type", string(jobType)),
		slog.Int("size", len(jobs)),
	)

	q.notify(ctx, jobs)
	return batchID, ids, nil
}

func (q *Queue) notify(ctx context.Context, jobs []*domain.Job) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.NotifyEnqueued(ctx, jobs); err != nil {
		q.logger.Warn("Failed to publish enqueue notification",
			slog.Int("jobs", len(jobs)),
			slog.String("error", err.Error()),
		)
	}
}

// Dequeue claims up to limit jobs in priority order (priority DESC, created_at ASC,
// insertion order) and marks them processing in the same atomic step.
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	jobs, err := q.store.ClaimJobs(ctx, limit, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	return jobs, nil
}

// Peek returns the jobs Dequeue would claim, without claiming them
func (q *Queue) Peek(ctx context.Context, limit int) ([]*domain.Job, error) {
	return q.store.PeekJobs(ctx, limit)
}

// ClaimBatch claims the still pending members of a batch
func (q *Queue) ClaimBatch(ctx context.Context, batchID string) ([]*domain.Job, error) {
	return q.store.ClaimBatch(ctx, batchID, q.now())
}

// MarkProcessing claims one specific pending job
func (q *Queue) MarkProcessing(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.store.ClaimJob(ctx, jobID, q.now())
}

// MarkCompleted finishes a processing job
func (q *Queue) MarkCompleted(ctx context.Context, jobID string) error {
	return q.store.CompleteJobs(ctx, []string{jobID}, q.now())
}

// MarkFailed fails a processing job and increments its attempts
func (q *Queue) MarkFailed(ctx context.Context, jobID string, cause error) error {
	return q.store.FailJobs(ctx, []string{jobID}, errorMessage(cause), q.now())
}

// CompleteBatch finishes every member of a batch together
func (q *Queue) CompleteBatch(ctx context.Context, ids []string) error {
	return q.store.CompleteJobs(ctx, ids, q.now())
}

// FailBatch fails every member of a batch together. There is no partial success.
func (q *Queue) FailBatch(ctx context.Context, ids []string, cause error) error {
	return q.store.FailJobs(ctx, ids, errorMessage(cause), q.now())
}

// Release hands claimed jobs that never started back to the queue.
// Attempts are not incremented.
func (q *Queue) Release(ctx context.Context, ids []string) error {
	return q.store.ReleaseJobs(ctx, ids)
}

// RetrySweep returns failed jobs with attempts left to pending once their
// backoff delay has elapsed since completed_at.
func (q *Queue) RetrySweep(ctx context.Context) (int, error) {
	now := q.now()

	candidates, err := q.store.RetryCandidates(ctx, q.cfg.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to load retry candidates: %w", err)
	}

	requeued := 0
	for _, job := range candidates {
		if err := ctx.Err(); err != nil {
			return requeued, err
		}
		if job.CompletedAt == nil {
			continue
		}
		due := job.CompletedAt.Add(q.cfg.Backoff.Delay(job.Attempts))
		if now.Before(due) {
			continue
		}

		ok, err := q.store.RequeueJob(ctx, job.ID)
		if err != nil {
			return requeued, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		if ok {
			requeued++
		}
	}

	if requeued > 0 {
		q.logger.Info("Retry sweep requeued jobs",
			slog.Int("requeued", requeued),
			slog.Int("candidates", len(candidates)),
		)
	}
	return requeued, nil
}

// Retry requeues one failed job immediately, skipping the cooldown
func (q *Queue) Retry(ctx context.Context, jobID string) error {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Retryable() {
		return fmt.Errorf("%w: job %s used %d of %d attempts", domain.ErrMaxRetriesExceeded, jobID, job.Attempts, job.MaxAttempts)
	}
	ok, err := q.store.RequeueJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, job.Status)
	}
	return nil
}

// Purge deletes completed and permanently failed jobs older than the cutoff
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := q.store.PurgeJobs(ctx, q.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return n, nil
}

// Stats summarizes the queue over the configured window
func (q *Queue) Stats(ctx context.Context) (domain.QueueStats, error) {
	now := q.now()
	return q.store.JobStats(ctx, now.Add(-q.cfg.StatsWindow), now.Add(-q.cfg.StuckAfter))
}

// Get returns one job
func (q *Queue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// List returns a page of jobs, newest first, plus one lookahead row
func (q *Queue) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	return q.store.ListJobs(ctx, filter)
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "job timed out: " + err.Error()
	}
	return err.Error()
}
