package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/marketplace"
	"github.com/cuongbtq/marketsync/internal/marketplace/marketplacetest"
	"github.com/cuongbtq/marketsync/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPinger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPinger) Ping(context.Context) error {
	p.calls.Add(1)
	return p.err
}

type staticStats struct {
	stats domain.QueueStats
	err   error
}

func (s staticStats) Stats(context.Context) (domain.QueueStats, error) { return s.stats, s.err }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func checkByName(r Report, name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func TestProber_QueueThresholds(t *testing.T) {
	tests := []struct {
		name  string
		stats domain.QueueStats
		want  domain.HealthStatus
	}{
		{name: "idle", stats: domain.QueueStats{}, want: domain.HealthHealthy},
		{name: "stuck job", stats: domain.QueueStats{StuckProcessing: 1}, want: domain.HealthError},
		{name: "many failures", stats: domain.QueueStats{Failed: 11}, want: domain.HealthWarning},
		{name: "ten failures ok", stats: domain.QueueStats{Failed: 10}, want: domain.HealthHealthy},
		{name: "backlog", stats: domain.QueueStats{Pending: 101}, want: domain.HealthWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(&countingPinger{}, Config{}, discard(), WithQueue(staticStats{stats: tt.stats}))
			r := p.Refresh(context.Background())

			c, ok := checkByName(r, "queue")
			require.True(t, ok)
			assert.Equal(t, tt.want, c.Status)
			assert.Equal(t, tt.want, r.Status)
		})
	}
}

func TestProber_DatabaseDownIsCritical(t *testing.T) {
	p := NewProber(&countingPinger{err: errors.New("connection refused")}, Config{}, discard(),
		WithDependency("redis", &countingPinger{}))

	r := p.Refresh(context.Background())
	assert.Equal(t, domain.HealthCritical, r.Status)

	db, ok := checkByName(r, "database")
	require.True(t, ok)
	assert.Equal(t, "connection refused", db.Message)
}

func TestProber_OptionalDependencyDegradesToWarning(t *testing.T) {
	p := NewProber(&countingPinger{}, Config{}, discard(),
		WithDependency("rabbitmq", &countingPinger{err: errors.New("closed")}))

	assert.Equal(t, domain.HealthWarning, p.Refresh(context.Background()).Status)
}

func TestProber_Marketplaces(t *testing.T) {
	up := func(name string) marketplace.Adapter { return marketplacetest.New(name) }
	down := func(name string) marketplace.Adapter {
		f := marketplacetest.New(name)
		f.Err = errors.New("timeout")
		return f
	}

	tests := []struct {
		name     string
		adapters []marketplace.Adapter
		want     domain.HealthStatus
	}{
		{name: "all up", adapters: []marketplace.Adapter{up("a"), up("b")}, want: domain.HealthHealthy},
		{name: "one of two down", adapters: []marketplace.Adapter{up("a"), down("b")}, want: domain.HealthWarning},
		{name: "most down", adapters: []marketplace.Adapter{up("a"), down("b"), down("c")}, want: domain.HealthError},
		{name: "all down", adapters: []marketplace.Adapter{down("a"), down("b")}, want: domain.HealthCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(&countingPinger{}, Config{}, discard(),
				WithMarketplaces(marketplace.NewRegistry(tt.adapters...)))
			r := p.Refresh(context.Background())

			c, ok := checkByName(r, "marketplaces")
			require.True(t, ok)
			assert.Equal(t, tt.want, c.Status)
			if tt.want == domain.HealthHealthy {
				assert.Len(t, r.ResponseTimesMs, 2)
			}
		})
	}
}

func TestProber_CachesReport(t *testing.T) {
	db := &countingPinger{}
	store := memory.New()
	p := NewProber(db, Config{CacheTTL: time.Minute}, discard(), WithLogWriter(store))
	ctx := context.Background()

	first := p.Check(ctx)
	second := p.Check(ctx)
	assert.Equal(t, first.CheckedAt, second.CheckedAt)
	assert.Equal(t, int32(1), db.calls.Load())

	p.Refresh(ctx)
	assert.Equal(t, int32(2), db.calls.Load())

	logs := store.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, domain.LogChannelHealth, logs[0].Channel)
	assert.Equal(t, "health check: healthy", logs[0].Message)
}

func TestCollector_Snapshot(t *testing.T) {
	store := memory.New()
	now := time.Now()
	_, err := store.UpsertOrders(context.Background(), []domain.Order{
		{Marketplace: "n11", ExternalID: "1", CreatedAt: now.Add(-10 * time.Minute)},
		{Marketplace: "n11", ExternalID: "2", CreatedAt: now.Add(-3 * time.Hour)},
	})
	require.NoError(t, err)

	stats := staticStats{stats: domain.QueueStats{Pending: 4, Processing: 1, RecentTotal: 10, RecentFailed: 2}}
	p := NewProber(&countingPinger{}, Config{}, discard(), WithQueue(stats))
	c := NewCollector(p, stats, store, time.Hour)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthHealthy, snap.Health)
	assert.Equal(t, 5, snap.QueueDepth)
	assert.InDelta(t, 20.0, snap.ErrorRate, 0.0001)
	assert.Equal(t, 1, snap.OrderVolume("n11"))
}
