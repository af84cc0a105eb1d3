package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/health"
	"github.com/cuongbtq/marketsync/internal/marketplace"
	"github.com/cuongbtq/marketsync/internal/marketplace/marketplacetest"
	"github.com/cuongbtq/marketsync/internal/queue"
	"github.com/cuongbtq/marketsync/internal/scheduler"
	"github.com/cuongbtq/marketsync/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProber struct {
	report health.Report
}

func (p staticProber) Refresh(context.Context) health.Report { return p.report }

type fixture struct {
	sched *scheduler.Scheduler
	store *memory.Store
	queue *queue.Queue
	clk   *clock
}

func newFixture(t *testing.T, prober scheduler.HealthProber) *fixture {
	t.Helper()
	store := memory.New()
	clk := &clock{now: base}
	q := queue.New(store, queue.DefaultConfig(), discardLogger(), queue.WithClock(clk.Now))
	registry := marketplace.NewRegistry(marketplacetest.New("trendyol"), marketplacetest.New("n11"))

	s := scheduler.New(store, discardLogger(), scheduler.WithClock(clk.Now))
	scheduler.RegisterProducers(s, scheduler.Deps{
		Queue:        q,
		Catalog:      store,
		Marketplaces: registry,
		Health:       prober,
		Cleaner:      store,
		Now:          clk.Now,
	})
	_, err := s.EnsureDefaults(context.Background())
	require.NoError(t, err)
	return &fixture{sched: s, store: store, queue: q, clk: clk}
}

func (f *fixture) pending(t *testing.T) []*domain.Job {
	t.Helper()
	jobs, err := f.queue.Peek(context.Background(), 1000)
	require.NoError(t, err)
	return jobs
}

func intPtr(v int) *int { return &v }

func TestProductSyncProducer(t *testing.T) {
	f := newFixture(t, nil)
	recent := base.Add(-10 * time.Minute)
	old := base.Add(-3 * time.Hour)

	f.store.PutProduct(domain.ProductSyncState{ProductID: "p1", Marketplace: "trendyol"})
	f.store.PutProduct(domain.ProductSyncState{ProductID: "p2", Marketplace: "trendyol", LastSync: &old})
	f.store.PutProduct(domain.ProductSyncState{ProductID: "p3", Marketplace: "trendyol", LastSync: &recent})
	f.store.PutProduct(domain.ProductSyncState{ProductID: "p4", Marketplace: "n11"})

	result, err := f.sched.RunTask(context.Background(), "product_sync")
	require.NoError(t, err)
	assert.Equal(t, 3, result.JobsEnqueued)

	jobs := f.pending(t)
	require.Len(t, jobs, 3)
	byMarketplace := map[string]int{}
	for _, j := range jobs {
		assert.Equal(t, domain.JobTypeProductSync, j.Type)
		assert.Equal(t, domain.PriorityNormal, j.Priority)
		byMarketplace[j.Marketplace]++
	}
	assert.Equal(t, map[string]int{"trendyol": 2, "n11": 1}, byMarketplace)
}

func TestProductSyncProducer_BatchSizeCap(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		f.store.PutProduct(domain.ProductSyncState{ProductID: id, Marketplace: "n11"})
	}

	result, err := f.sched.RunTask(context.Background(), "product_sync", scheduler.WithParam("batch_size", 2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.JobsEnqueued)
}

func TestOrderSyncProducer(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.sched.RunTask(context.Background(), "order_sync")
	require.NoError(t, err)
	assert.Equal(t, 2, result.JobsEnqueued)

	for _, j := range f.pending(t) {
		assert.Equal(t, domain.JobTypeOrderSync, j.Type)
		assert.Equal(t, domain.PriorityHigh, j.Priority)

		p, err := domain.DecodePayload(j.Type, j.Payload)
		require.NoError(t, err)
		payload := p.(*domain.OrderSyncPayload)
		assert.True(t, base.Equal(payload.Until))
		assert.True(t, base.Add(-time.Hour).Equal(payload.Since))
	}
}

func TestStockUpdateProducer(t *testing.T) {
	fresh := base.Add(-time.Minute)

	tests := []struct {
		name      string
		batch     bool
		wantJobs  int
		wantBatch bool
	}{
		{name: "one job per product", batch: false, wantJobs: 2},
		{name: "one batch per marketplace", batch: true, wantJobs: 2, wantBatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.store.PutProduct(domain.ProductSyncState{ProductID: "drift", Marketplace: "trendyol", LocalStock: 5, SyncedStock: intPtr(3), LastStockSync: &fresh})
			f.store.PutProduct(domain.ProductSyncState{ProductID: "never", Marketplace: "trendyol", LocalStock: 1})
			f.store.PutProduct(domain.ProductSyncState{ProductID: "same", Marketplace: "trendyol", LocalStock: 2, SyncedStock: intPtr(2), LastStockSync: &fresh})

			result, err := f.sched.RunTask(context.Background(), "stock_update", scheduler.WithParam("batch", tt.batch))
			require.NoError(t, err)
			assert.Equal(t, tt.wantJobs, result.JobsEnqueued)

			jobs := f.pending(t)
			require.Len(t, jobs, tt.wantJobs)
			for _, j := range jobs {
				assert.Equal(t, domain.JobTypeStockUpdate, j.Type)
				assert.Equal(t, tt.wantBatch, j.BatchID != nil)
			}
		})
	}
}

func TestPriceUpdateProducer_SkipsUnpriced(t *testing.T) {
	f := newFixture(t, nil)
	f.store.PutProduct(domain.ProductSyncState{ProductID: "priced", Marketplace: "n11", LocalPrice: 19.9})
	f.store.PutProduct(domain.ProductSyncState{ProductID: "unpriced", Marketplace: "n11"})

	result, err := f.sched.RunTask(context.Background(), "price_update")
	require.NoError(t, err)
	assert.Equal(t, 1, result.JobsEnqueued)

	jobs := f.pending(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobTypePriceUpdate, jobs[0].Type)
}

func TestHealthCheckProducer(t *testing.T) {
	tests := []struct {
		name         string
		status       domain.HealthStatus
		wantJobs     int
		wantSeverity domain.Severity
	}{
		{name: "healthy enqueues nothing", status: domain.HealthHealthy, wantJobs: 0},
		{name: "warning", status: domain.HealthWarning, wantJobs: 1, wantSeverity: domain.SeverityMedium},
		{name: "critical", status: domain.HealthCritical, wantJobs: 1, wantSeverity: domain.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := health.Report{
				Status: tt.status,
				Checks: []health.Check{
					{Name: "database", Status: domain.HealthHealthy},
					{Name: "queue", Status: tt.status},
				},
			}
			f := newFixture(t, staticProber{report: report})

			result, err := f.sched.RunTask(context.Background(), "system_health_check")
			require.NoError(t, err)
			assert.Equal(t, tt.wantJobs, result.JobsEnqueued)

			jobs := f.pending(t)
			require.Len(t, jobs, tt.wantJobs)
			if tt.wantJobs == 0 {
				return
			}
			assert.Equal(t, domain.JobTypeSendAlert, jobs[0].Type)
			assert.Equal(t, domain.PriorityCritical, jobs[0].Priority)

			p, err := domain.DecodePayload(jobs[0].Type, jobs[0].Payload)
			require.NoError(t, err)
			alert := p.(*domain.SendAlertPayload)
			assert.Equal(t, tt.wantSeverity, alert.Severity)
			assert.Contains(t, alert.Message, "queue="+string(tt.status))
		})
	}
}

func TestLogCleanupProducer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	writes := []domain.LogEntry{
		{Channel: domain.LogChannelSync, Level: "info", Message: "old", CreatedAt: base.AddDate(0, 0, -31)},
		{Channel: domain.LogChannelSync, Level: "info", Message: "recent", CreatedAt: base.AddDate(0, 0, -2)},
		{Channel: domain.LogChannelHealth, Level: "info", Message: "old health", CreatedAt: base.AddDate(0, 0, -8)},
	}
	for _, w := range writes {
		require.NoError(t, f.store.WriteLog(ctx, w))
	}

	_, err := f.sched.RunTask(ctx, "log_cleanup")
	require.NoError(t, err)

	logs := f.store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "recent", logs[0].Message)
}

func TestRetrySweepProducer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.queue.Enqueue(ctx, domain.JobTypeStockUpdate, "n11", domain.StockUpdatePayload{ProductID: "p", Quantity: 1}, domain.PriorityNormal)
	require.NoError(t, err)
	_, err = f.queue.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, f.queue.MarkFailed(ctx, id, assert.AnError))

	f.clk.Set(base.Add(5 * time.Minute))
	result, err := f.sched.RunTask(ctx, "retry_sweep")
	require.NoError(t, err)
	assert.Equal(t, 1, result.JobsEnqueued)

	job, err := f.queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}
