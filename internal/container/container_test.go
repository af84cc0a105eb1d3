package container_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/marketsync/internal/config"
	"github.com/cuongbtq/marketsync/internal/container"
	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/marketplace/marketplacetest"
	"github.com/cuongbtq/marketsync/internal/notify"
	"github.com/cuongbtq/marketsync/internal/ratelimit"
	"github.com/cuongbtq/marketsync/internal/scheduler"
	"github.com/cuongbtq/marketsync/internal/storage"
	"github.com/cuongbtq/marketsync/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ container.Store = (*memory.Store)(nil)
	_ container.Store = (*storage.Storage)(nil)
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Marketplaces: map[string]config.MarketplaceConfig{
			"trendyol": {
				BaseURL:       "http://trendyol.invalid",
				WebhookSecret: "s",
				RateLimit:     &config.RateLimitConfig{Calls: 7, Window: time.Second},
			},
		},
		Notify: config.NotifyConfig{
			DefaultChannels: []string{notify.ChannelLog},
			Slack:           config.SlackConfig{WebhookURL: "http://slack.invalid/hook"},
		},
		Cron: config.CronConfig{Token: "tok"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newContainer(t *testing.T, opts ...container.Option) (*container.Container, *memory.Store) {
	t.Helper()
	return newContainerWith(t, testConfig(), opts...)
}

func newContainerWith(t *testing.T, cfg *config.Config, opts ...container.Option) (*container.Container, *memory.Store) {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts = append([]container.Option{container.WithStore(store)}, opts...)
	c, err := container.New(context.Background(), cfg, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, store
}

func TestNew_WiresConfiguredComponents(t *testing.T) {
	c, _ := newContainer(t)

	assert.Nil(t, c.Broker)
	assert.Equal(t, []string{"trendyol"}, c.Registry.Names())
	assert.Equal(t, 7, c.Limiter.LimitFor("trendyol").Calls)
	assert.Equal(t, ratelimit.DefaultLimit, c.Limiter.LimitFor("n11").Calls)

	assert.True(t, c.Dispatcher.Has(notify.ChannelLog))
	assert.True(t, c.Dispatcher.Has(notify.ChannelSlack))
	assert.False(t, c.Dispatcher.Has(notify.ChannelEmail))
	assert.False(t, c.Dispatcher.Has(notify.ChannelWebhook))

	deps := c.APIDependencies()
	assert.Equal(t, "tok", deps.CronToken)
	assert.Equal(t, map[string]string{"trendyol": "s"}, deps.WebhookSecrets)
}

func TestNew_InvalidBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.Backoff.Strategy = "fibonacci"

	_, err := container.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		container.WithStore(memory.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backoff strategy")
}

func TestContainer_SchedulerFeedsWorker(t *testing.T) {
	fake := marketplacetest.New("n11")
	c, store := newContainer(t, container.WithAdapters(fake))
	ctx := context.Background()

	store.PutProduct(domain.ProductSyncState{ProductID: "p1", Marketplace: "n11", LocalStock: 4, LocalPrice: 10})

	_, err := c.Scheduler.EnsureDefaults(ctx)
	require.NoError(t, err)

	result, err := c.Scheduler.RunTask(ctx, "stock_update")
	require.NoError(t, err)
	assert.Equal(t, 1, result.JobsEnqueued)

	drained, err := c.Worker.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, drained.Succeeded)
	assert.Equal(t, 4, fake.StockUpdates["p1"])
}

func TestContainer_SendAlertUsesDefaultChannels(t *testing.T) {
	c, _ := newContainer(t)
	ctx := context.Background()

	id, err := c.Queue.Enqueue(ctx, domain.JobTypeSendAlert, "", domain.SendAlertPayload{
		Message:  "disk almost full",
		Severity: domain.SeverityMedium,
	}, domain.PriorityCritical)
	require.NoError(t, err)

	drained, err := c.Worker.Drain(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, drained.Succeeded)

	job, err := c.Queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestContainer_AlertEvaluationTask(t *testing.T) {
	// no remote marketplaces so the health probe stays offline
	cfg := testConfig()
	cfg.Marketplaces = nil
	c, store := newContainerWith(t, cfg, container.WithAdapters(marketplacetest.New("n11")))
	ctx := context.Background()

	rule := &domain.AlertRule{
		Name:              "backlog",
		RuleType:          domain.RuleQueueSize,
		ThresholdValue:    0,
		ThresholdOperator: domain.OpGreater,
		AlertChannels:     []string{notify.ChannelLog},
		IsActive:          true,
	}
	require.NoError(t, store.CreateRule(ctx, rule))
	_, err := c.Queue.Enqueue(ctx, domain.JobTypePriceUpdate, "n11",
		domain.PriceUpdatePayload{ProductID: "p", Price: 1}, domain.PriorityNormal)
	require.NoError(t, err)

	_, err = c.Scheduler.EnsureDefaults(ctx)
	require.NoError(t, err)
	_, err = c.Scheduler.RunTask(ctx, "alert_evaluation")
	require.NoError(t, err)

	events, err := store.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, rule.ID, events[0].AlertRuleID)
	assert.Equal(t, []string{notify.ChannelLog}, []string(events[0].ChannelsSent))
}

func TestActionTasksAreRegistered(t *testing.T) {
	c, _ := newContainer(t)
	ctx := context.Background()
	_, err := c.Scheduler.EnsureDefaults(ctx)
	require.NoError(t, err)

	names, ok := scheduler.ActionTasks("all")
	require.True(t, ok)
	for _, name := range names {
		_, err := c.Scheduler.RunTask(ctx, name)
		assert.NoError(t, err, name)
	}
}
