package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// OrderCounter counts imported orders per marketplace
type OrderCounter interface {
	CountOrdersSince(ctx context.Context, since time.Time) (map[string]int, error)
}

// Collector assembles the metrics snapshot used by alert evaluation
type Collector struct {
	prober      *Prober
	queue       QueueStatter
	orders      OrderCounter
	orderWindow time.Duration
	now         func() time.Time
}

// NewCollector creates a Collector. Orders are counted over orderWindow (default 1h).
func NewCollector(prober *Prober, queue QueueStatter, orders OrderCounter, orderWindow time.Duration) *Collector {
	if orderWindow <= 0 {
		orderWindow = time.Hour
	}
	return &Collector{
		prober:      prober,
		queue:       queue,
		orders:      orders,
		orderWindow: orderWindow,
		now:         time.Now,
	}
}

// Snapshot probes health and reads queue and order metrics
func (c *Collector) Snapshot(ctx context.Context) (domain.MetricsSnapshot, error) {
	now := c.now()
	report := c.prober.Check(ctx)

	stats, err := c.queue.Stats(ctx)
	if err != nil {
		return domain.MetricsSnapshot{}, fmt.Errorf("failed to read queue stats: %w", err)
	}

	counts, err := c.orders.CountOrdersSince(ctx, now.Add(-c.orderWindow))
	if err != nil {
		return domain.MetricsSnapshot{}, fmt.Errorf("failed to count orders: %w", err)
	}

	return domain.MetricsSnapshot{
		TakenAt:         now,
		Health:          report.Status,
		ErrorRate:       stats.ErrorRate(),
		ResponseTimesMs: report.ResponseTimesMs,
		QueueDepth:      stats.Depth(),
		OrderCounts:     counts,
	}, nil
}
