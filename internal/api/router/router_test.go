package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/marketsync/internal/api/dto"
	"github.com/cuongbtq/marketsync/internal/api/handler"
	"github.com/cuongbtq/marketsync/internal/api/router"
	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/health"
	"github.com/cuongbtq/marketsync/internal/marketplace"
	"github.com/cuongbtq/marketsync/internal/marketplace/marketplacetest"
	"github.com/cuongbtq/marketsync/internal/queue"
	"github.com/cuongbtq/marketsync/internal/scheduler"
	"github.com/cuongbtq/marketsync/internal/signature"
	"github.com/cuongbtq/marketsync/internal/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ handler.JobService      = (*queue.Queue)(nil)
	_ handler.TaskService     = (*scheduler.Scheduler)(nil)
	_ handler.AlertStore      = (*memory.Store)(nil)
	_ handler.HealthChecker   = (*health.Prober)(nil)
	_ handler.WebhookRecorder = (*memory.Store)(nil)
)

const (
	cronToken     = "s3cret-token"
	webhookSecret = "whsec"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// tickingClock advances one second per reading so jobs get distinct timestamps
type tickingClock struct {
	mu sync.Mutex
	n  int
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return base.Add(time.Duration(c.n) * time.Second)
}

type staticHealth struct {
	report health.Report
}

func (h *staticHealth) Check(context.Context) health.Report { return h.report }

type server struct {
	engine *gin.Engine
	store  *memory.Store
	queue  *queue.Queue
	health *staticHealth
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	clk := &tickingClock{}
	q := queue.New(store, queue.DefaultConfig(), logger, queue.WithClock(clk.Now))
	registry := marketplace.NewRegistry(marketplacetest.New("trendyol"))

	sched := scheduler.New(store, logger, scheduler.WithClock(clk.Now))
	scheduler.RegisterProducers(sched, scheduler.Deps{
		Queue:        q,
		Catalog:      store,
		Marketplaces: registry,
		Now:          clk.Now,
	})
	_, err := sched.EnsureDefaults(context.Background())
	require.NoError(t, err)

	hc := &staticHealth{report: health.Report{Status: domain.HealthHealthy, CheckedAt: base}}
	deps := &handler.Dependencies{
		Logger:         logger,
		Jobs:           q,
		Tasks:          sched,
		Alerts:         store,
		Health:         hc,
		Webhooks:       store,
		CronToken:      cronToken,
		WebhookSecrets: map[string]string{"trendyol": webhookSecret},
		Now:            func() time.Time { return base },
	}
	return &server{engine: router.SetupRouter(deps), store: store, queue: q, health: hc}
}

func (s *server) do(method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func (s *server) pendingJobs(t *testing.T) []*domain.Job {
	t.Helper()
	jobs, err := s.queue.Peek(context.Background(), 1000)
	require.NoError(t, err)
	return jobs
}

func TestCron(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
		wantOK     bool
		wantJobs   int
	}{
		{name: "missing token", method: http.MethodGet, target: "/cron?action=sync_products", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", method: http.MethodGet, target: "/cron?action=sync_products&token=nope", wantStatus: http.StatusUnauthorized},
		{name: "unknown action", method: http.MethodGet, target: "/cron?action=reindex&token=" + cronToken, wantStatus: http.StatusBadRequest},
		{name: "bad limit", method: http.MethodGet, target: "/cron?action=sync_products&limit=x&token=" + cronToken, wantStatus: http.StatusBadRequest},
		{name: "sync products with limit", method: http.MethodGet, target: "/cron?action=sync_products&limit=2&token=" + cronToken, wantStatus: http.StatusOK, wantOK: true, wantJobs: 2},
		{name: "import orders over post", method: http.MethodPost, target: "/cron?action=import_orders&token=" + cronToken, wantStatus: http.StatusOK, wantOK: true, wantJobs: 1},
		{name: "all", method: http.MethodGet, target: "/cron?action=all&token=" + cronToken, wantStatus: http.StatusOK, wantOK: true, wantJobs: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			for _, id := range []string{"a", "b", "c"} {
				s.store.PutProduct(domain.ProductSyncState{ProductID: id, Marketplace: "trendyol", LocalStock: 1, LocalPrice: 1})
			}

			rec := s.do(tt.method, tt.target, nil, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp dto.CronResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantOK, resp.Success)
			assert.NotEmpty(t, resp.Message)

			if tt.wantOK {
				assert.Len(t, s.pendingJobs(t), tt.wantJobs)
				assert.Equal(t, tt.wantJobs, resp.JobsEnqueued)
			} else {
				assert.Empty(t, s.pendingJobs(t))
			}
		})
	}
}

func signedHeaders(body []byte, secret string, at time.Time) map[string]string {
	ts := signature.Timestamp(at)
	return map[string]string{
		signature.HeaderTimestamp: ts,
		signature.HeaderSignature: signature.Sign(secret, ts, body),
		"Content-Type":            "application/json",
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	s := newServer(t)
	body := []byte(`{"event_type":"order.created","event_id":"e1","data":{"id":"o1"}}`)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "wrong secret", headers: signedHeaders(body, "other", base)},
		{name: "expired timestamp", headers: signedHeaders(body, webhookSecret, base.Add(-time.Hour))},
		{name: "missing headers", headers: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/webhooks/trendyol", body, tt.headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	assert.Empty(t, s.pendingJobs(t))
	hooks := s.store.Webhooks()
	require.Len(t, hooks, len(tests))
	for _, h := range hooks {
		assert.Equal(t, domain.WebhookRejected, h.Status)
		require.NotNil(t, h.Error)
	}
}

func TestWebhook_EnqueuesOnceAndDedupes(t *testing.T) {
	s := newServer(t)
	body := []byte(`{"event_type":"order.created","event_id":"e1","data":{"id":"o1"}}`)

	rec := s.do(http.MethodPost, "/webhooks/trendyol", body, signedHeaders(body, webhookSecret, base))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp dto.WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.JobID)

	rec = s.do(http.MethodPost, "/webhooks/trendyol", body, signedHeaders(body, webhookSecret, base))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Duplicate)

	jobs := s.pendingJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobTypeWebhookEvent, jobs[0].Type)
	assert.Equal(t, "trendyol", jobs[0].Marketplace)

	hooks := s.store.Webhooks()
	require.Len(t, hooks, 1)
	assert.Equal(t, domain.WebhookProcessed, hooks[0].Status)
	assert.Equal(t, "e1", hooks[0].EventID)
}

func TestWebhook_Errors(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/webhooks/amazon", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := []byte(`{"event_id":"no-type"}`)
	rec = s.do(http.MethodPost, "/webhooks/trendyol", body, signedHeaders(body, webhookSecret, base))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.pendingJobs(t))
}

func TestJobs_ListPaginates(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	var ids []string
	for _, p := range []string{"a", "b", "c"} {
		id, err := s.queue.Enqueue(ctx, domain.JobTypeStockUpdate, "trendyol", domain.StockUpdatePayload{ProductID: p, Quantity: 1}, domain.PriorityNormal)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	rec := s.do(http.MethodGet, "/api/v1/jobs?page_size=2&type=stock_update", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Jobs, 2)
	assert.Equal(t, ids[2], page.Jobs[0].ID)
	assert.Equal(t, ids[1], page.Jobs[1].ID)
	require.NotEmpty(t, page.NextCursor)

	rec = s.do(http.MethodGet, "/api/v1/jobs?page_size=2&type=stock_update&cursor="+page.NextCursor, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, ids[0], page.Jobs[0].ID)
	assert.Empty(t, page.NextCursor)

	rec = s.do(http.MethodGet, "/api/v1/jobs?cursor=bm9wZQ==", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs_GetAndRetry(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	id, err := s.queue.Enqueue(ctx, domain.JobTypePriceUpdate, "trendyol", domain.PriceUpdatePayload{ProductID: "p", Price: 3}, domain.PriorityNormal)
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/api/v1/jobs/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job dto.JobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "pending", job.Status)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/jobs/"+"00000000-0000-0000-0000-000000000000", nil, nil).Code)

	// pending jobs cannot be retried
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/v1/jobs/"+id+"/retry", nil, nil).Code)

	_, err = s.queue.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.queue.MarkFailed(ctx, id, assert.AnError))

	rec = s.do(http.MethodPost, "/api/v1/jobs/"+id+"/retry", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := s.queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
}

func TestTasks(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/api/v1/tasks", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tasks []domain.ScheduledTask `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Tasks, len(scheduler.DefaultTasks()))

	rec = s.do(http.MethodPost, "/api/v1/tasks/order_sync/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result scheduler.TaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.JobsEnqueued)

	rec = s.do(http.MethodGet, "/api/v1/tasks/order_sync/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Stats domain.TaskStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Stats.Executions)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/tasks/missing/run", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/tasks/missing/stats", nil, nil).Code)
}

func TestAlerts(t *testing.T) {
	s := newServer(t)
	require.NoError(t, s.store.CreateRule(context.Background(), &domain.AlertRule{
		Name:              "queue backlog",
		RuleType:          domain.RuleQueueSize,
		ThresholdValue:    100,
		ThresholdOperator: domain.OpGreater,
		AlertChannels:     []string{"log"},
		IsActive:          true,
	}))

	rec := s.do(http.MethodGet, "/api/v1/alerts/rules", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue backlog")

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/alerts/events?limit=5", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/alerts/events?limit=0", nil, nil).Code)
}

func TestHealth(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", nil, nil).Code)

	s.health.report.Status = domain.HealthCritical
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/health", nil, nil).Code)
}
