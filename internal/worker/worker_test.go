package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/queue"
	"github.com/cuongbtq/marketsync/internal/storage/memory"
	"github.com/cuongbtq/marketsync/internal/worker"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ worker.Queue = (*queue.Queue)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorker(t *testing.T, cfg worker.Config) (*worker.Worker, *queue.Queue) {
	t.Helper()
	q := queue.New(memory.New(), queue.DefaultConfig(), discardLogger())
	return worker.NewWorker(q, cfg, discardLogger()), q
}

func enqueueStock(t *testing.T, q *queue.Queue, ids ...string) []string {
	t.Helper()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		jobID, err := q.Enqueue(context.Background(), domain.JobTypeStockUpdate, "n11",
			domain.StockUpdatePayload{ProductID: id, Quantity: 1}, domain.PriorityNormal)
		require.NoError(t, err)
		out = append(out, jobID)
	}
	return out
}

func jobStatus(t *testing.T, q *queue.Queue, id string) *domain.Job {
	t.Helper()
	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func isCompleted(q *queue.Queue, id string) func() bool {
	return func() bool {
		job, err := q.Get(context.Background(), id)
		return err == nil && job.Status == domain.JobStatusCompleted
	}
}

func TestDrain_MarksOutcome(t *testing.T) {
	w, q := newWorker(t, worker.Config{Concurrency: 2})
	ids := enqueueStock(t, q, "ok-1", "bad", "ok-2")

	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(_ context.Context, job *domain.Job) error {
		if job.ID == ids[1] {
			return errors.New("marketplace rejected")
		}
		return nil
	}))

	result, err := w.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, worker.DrainResult{Claimed: 3, Succeeded: 2, Failed: 1}, result)

	assert.Equal(t, domain.JobStatusCompleted, jobStatus(t, q, ids[0]).Status)
	assert.Equal(t, domain.JobStatusCompleted, jobStatus(t, q, ids[2]).Status)

	failed := jobStatus(t, q, ids[1])
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "marketplace rejected")
}

func TestDrain_UnknownJobType(t *testing.T) {
	w, q := newWorker(t, worker.Config{})
	ids := enqueueStock(t, q, "p1")

	result, err := w.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	job := jobStatus(t, q, ids[0])
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, *job.ErrorMessage, domain.ErrNoHandler.Error())
}

func TestDrain_EmptyQueue(t *testing.T) {
	w, _ := newWorker(t, worker.Config{})

	result, err := w.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, result)
}

func TestDrain_BoundedConcurrency(t *testing.T) {
	const concurrency = 3
	w, q := newWorker(t, worker.Config{Concurrency: concurrency})
	enqueueStock(t, q, "a", "b", "c", "d", "e", "f", "g", "h", "i", "j")

	var running, peak atomic.Int32
	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(context.Context, *domain.Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}))

	result, err := w.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(concurrency))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestDrain_RespectsLimit(t *testing.T) {
	w, q := newWorker(t, worker.Config{})
	enqueueStock(t, q, "a", "b", "c")
	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(context.Context, *domain.Job) error { return nil }))

	result, err := w.Drain(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)

	pending, err := q.Peek(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
	single  int
	err     error
}

func (b *batchRecorder) Execute(context.Context, *domain.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.single++
	return nil
}

func (b *batchRecorder) ExecuteBatch(_ context.Context, jobs []*domain.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	b.batches = append(b.batches, ids)
	return b.err
}

func TestDrain_RunsBatchAsOneUnit(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus domain.JobStatus
	}{
		{name: "success completes every member", wantStatus: domain.JobStatusCompleted},
		{name: "failure fails every member", err: errors.New("bulk rejected"), wantStatus: domain.JobStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, q := newWorker(t, worker.Config{})
			rec := &batchRecorder{err: tt.err}
			w.Register(domain.JobTypeStockUpdate, rec)

			payloads := []domain.Payload{
				domain.StockUpdatePayload{ProductID: "a", Quantity: 1},
				domain.StockUpdatePayload{ProductID: "b", Quantity: 2},
				domain.StockUpdatePayload{ProductID: "c", Quantity: 3},
			}
			_, ids, err := q.EnqueueBatch(context.Background(), domain.JobTypeStockUpdate, "n11", payloads, domain.PriorityNormal)
			require.NoError(t, err)

			// claim only part of the batch; the rest is picked up with it
			result, _ := w.Drain(context.Background(), 1)
			assert.Equal(t, 3, result.Claimed)
			assert.Equal(t, 1, result.Batches)

			require.Len(t, rec.batches, 1)
			assert.ElementsMatch(t, ids, rec.batches[0])
			assert.Zero(t, rec.single)

			for _, id := range ids {
				assert.Equal(t, tt.wantStatus, jobStatus(t, q, id).Status)
			}
		})
	}
}

func TestDrain_BatchWithoutBatchHandler(t *testing.T) {
	w, q := newWorker(t, worker.Config{})
	var calls atomic.Int32
	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(_ context.Context, job *domain.Job) error {
		if calls.Add(1) == 2 {
			return errors.New("second member failed")
		}
		return nil
	}))

	payloads := []domain.Payload{
		domain.StockUpdatePayload{ProductID: "a", Quantity: 1},
		domain.StockUpdatePayload{ProductID: "b", Quantity: 2},
		domain.StockUpdatePayload{ProductID: "c", Quantity: 3},
	}
	_, ids, err := q.EnqueueBatch(context.Background(), domain.JobTypeStockUpdate, "n11", payloads, domain.PriorityNormal)
	require.NoError(t, err)

	result, err := w.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, int32(2), calls.Load())
	for _, id := range ids {
		assert.Equal(t, domain.JobStatusFailed, jobStatus(t, q, id).Status)
	}
}

func TestProcessBatch(t *testing.T) {
	w, q := newWorker(t, worker.Config{})
	rec := &batchRecorder{}
	w.Register(domain.JobTypeStockUpdate, rec)
	ctx := context.Background()

	ids := enqueueStock(t, q, "a", "b")

	err := w.ProcessBatch(ctx, ids)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = q.Dequeue(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, w.ProcessBatch(ctx, ids))
	require.Len(t, rec.batches, 1)
	for _, id := range ids {
		assert.Equal(t, domain.JobStatusCompleted, jobStatus(t, q, id).Status)
	}

	assert.ErrorIs(t, w.ProcessBatch(ctx, []string{"missing"}), domain.ErrJobNotFound)
}

func TestDrain_CancelledContextReleasesClaims(t *testing.T) {
	w, q := newWorker(t, worker.Config{})
	ids := enqueueStock(t, q, "a", "b")

	var calls atomic.Int32
	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(context.Context, *domain.Job) error {
		calls.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// repeated shutdowns must not eat into the retry budget
	for i := 0; i < domain.DefaultMaxAttempts+1; i++ {
		result, err := w.Drain(ctx, 10)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, result.Claimed)
		assert.Equal(t, 2, result.Released)
		assert.Zero(t, result.Failed)
	}
	assert.Zero(t, calls.Load())

	for _, id := range ids {
		job := jobStatus(t, q, id)
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.Zero(t, job.Attempts)
		assert.Nil(t, job.StartedAt)
	}

	result, err := w.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDrain_JobTimeout(t *testing.T) {
	w, q := newWorker(t, worker.Config{JobTimeout: 20 * time.Millisecond})
	ids := enqueueStock(t, q, "slow")

	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(ctx context.Context, _ *domain.Job) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	result, err := w.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	job := jobStatus(t, q, ids[0])
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, *job.ErrorMessage, "exceeded job timeout")
}

func TestDrain_RecoversPanic(t *testing.T) {
	w, q := newWorker(t, worker.Config{})
	ids := enqueueStock(t, q, "p")
	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(context.Context, *domain.Job) error {
		panic("nil map")
	}))

	result, err := w.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, *jobStatus(t, q, ids[0]).ErrorMessage, "nil map")
}

func TestStart_PollsUntilCancelled(t *testing.T) {
	w, q := newWorker(t, worker.Config{PollInterval: 20 * time.Millisecond})
	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(context.Context, *domain.Job) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	ids := enqueueStock(t, q, "late")
	assert.Eventually(t, isCompleted(q, ids[0]), 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

type fakeAcknowledger struct {
	acks  atomic.Int32
	nacks atomic.Int32
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acks.Add(1)
	return nil
}

func (a *fakeAcknowledger) Nack(uint64, bool, bool) error {
	a.nacks.Add(1)
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

type fakeSource struct {
	deliveries chan amqp.Delivery
}

func (s *fakeSource) Consume(string) (<-chan amqp.Delivery, error) {
	return s.deliveries, nil
}

func TestConsumeWakeups_TriggersDrain(t *testing.T) {
	w, q := newWorker(t, worker.Config{PollInterval: time.Hour})
	w.Register(domain.JobTypeStockUpdate, worker.HandlerFunc(func(context.Context, *domain.Job) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{deliveries: make(chan amqp.Delivery)}
	ack := &fakeAcknowledger{}
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- w.ConsumeWakeups(ctx, source) }()
	go func() { _ = w.Start(ctx) }()

	// malformed bodies are dead-lettered
	source.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("not json")}

	ids := enqueueStock(t, q, "woken")
	source.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{"job_ids":["` + ids[0] + `"],"job_type":"stock_update"}`)}

	assert.Eventually(t, isCompleted(q, ids[0]), 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), ack.nacks.Load())
	assert.Equal(t, int32(1), ack.acks.Load())

	cancel()
	assert.NoError(t, <-consumerDone)
	w.Stop()
}
