package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/marketsync/cmd/marketsync/commands"
	"github.com/cuongbtq/marketsync/internal/config"
	"github.com/cuongbtq/marketsync/internal/container"
	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/health"
	"github.com/cuongbtq/marketsync/internal/marketplace/marketplacetest"
	"github.com/cuongbtq/marketsync/internal/storage/memory"
	"github.com/cuongbtq/marketsync/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

type harness struct {
	store *memory.Store
	fake  *marketplacetest.Fake
	opens int
}

func newHarness() *harness {
	return &harness{store: memory.New(), fake: marketplacetest.New("n11")}
}

func (h *harness) open(ctx context.Context, _ *cli.Command) (*container.Container, error) {
	h.opens++
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return container.New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		container.WithStore(h.store),
		container.WithoutBroker(),
		container.WithAdapters(h.fake),
	)
}

// run executes the CLI and decodes its stdout into out when out is non-nil
func (h *harness) run(t *testing.T, out any, args ...string) error {
	t.Helper()
	var buf bytes.Buffer
	app := commands.NewApp(h.open)
	app.Writer = &buf
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}

	err := app.Run(context.Background(), append([]string{"marketsync"}, args...))
	if err == nil && out != nil {
		require.NoError(t, json.Unmarshal(buf.Bytes(), out), buf.String())
	}
	return err
}

func TestMigrate_SeedsTasksOnce(t *testing.T) {
	h := newHarness()

	var first, second map[string]int
	require.NoError(t, h.run(t, &first, "migrate"))
	require.NoError(t, h.run(t, &second, "migrate"))

	assert.Equal(t, 8, first["tasks_created"])
	assert.Equal(t, 0, second["tasks_created"])
	assert.Equal(t, 2, h.opens)
}

func TestCron_EnqueuesAndDrains(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run(t, nil, "migrate"))
	h.store.PutProduct(domain.ProductSyncState{ProductID: "p1", Marketplace: "n11", LocalStock: 9, LocalPrice: 5})

	var cron struct {
		Action       string `json:"action"`
		JobsEnqueued int    `json:"jobs_enqueued"`
	}
	require.NoError(t, h.run(t, &cron, "cron", "--action", "sync_stock", "--limit", "10"))
	assert.Equal(t, "sync_stock", cron.Action)
	assert.Equal(t, 1, cron.JobsEnqueued)

	var drained worker.DrainResult
	require.NoError(t, h.run(t, &drained, "drain", "--limit", "5"))
	assert.Equal(t, 1, drained.Succeeded)
	assert.Equal(t, 9, h.fake.StockUpdates["p1"])
}

func TestCron_UnknownAction(t *testing.T) {
	h := newHarness()

	err := h.run(t, nil, "cron", "--action", "reindex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action "reindex"`)
	assert.Zero(t, h.opens)
}

func TestTask_RunAndStats(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run(t, nil, "migrate"))

	require.NoError(t, h.run(t, nil, "task", "run", "--name", "order_sync"))

	var stats domain.TaskStats
	require.NoError(t, h.run(t, &stats, "task", "stats", "--name", "order_sync"))
	assert.Equal(t, 1, stats.Executions)
	assert.Equal(t, 1, stats.Succeeded)

	err := h.run(t, nil, "task", "stats", "--name", "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	err = h.run(t, nil, "task", "run")
	assert.Error(t, err, "name is required")
}

func TestQueue_StatsAndSweep(t *testing.T) {
	h := newHarness()

	var sweep map[string]int
	require.NoError(t, h.run(t, &sweep, "queue", "sweep"))
	assert.Equal(t, 0, sweep["requeued"])

	var stats domain.QueueStats
	require.NoError(t, h.run(t, &stats, "queue", "stats"))
	assert.Zero(t, stats.Pending)
}

func TestAlertsEvaluate_NoRules(t *testing.T) {
	h := newHarness()

	var events []domain.AlertEvent
	require.NoError(t, h.run(t, &events, "alerts", "evaluate"))
	assert.Empty(t, events)
}

func TestHealth(t *testing.T) {
	h := newHarness()

	var report health.Report
	require.NoError(t, h.run(t, &report, "health"))
	assert.Equal(t, domain.HealthHealthy, report.Status)
	assert.NotEmpty(t, report.Checks)
}
