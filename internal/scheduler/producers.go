package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/health"
)

// Freshness windows of the sync producers
const (
	ProductStaleAfter = time.Hour
	DriftStaleAfter   = 2 * time.Hour
	OrderSyncWindow   = time.Hour

	defaultProductBatch = 50
	defaultDriftBatch   = 100
	defaultRetention    = 30
	defaultHealthDays   = 7
	failedWebhookDays   = 7
)

// Enqueuer is the part of the job queue the producers use
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType domain.JobType, marketplace string, payload domain.Payload, priority int) (string, error)
	EnqueueBatch(ctx context.Context, jobType domain.JobType, marketplace string, payloads []domain.Payload, priority int) (string, []string, error)
	RetrySweep(ctx context.Context) (int, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Catalog selects products that need pushing
type Catalog interface {
	StaleProducts(ctx context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error)
	StockDrift(ctx context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error)
	PriceDrift(ctx context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error)
}

// Marketplaces lists configured marketplace names
type Marketplaces interface {
	Names() []string
}

// HealthProber runs a fresh health probe
type HealthProber interface {
	Refresh(ctx context.Context) health.Report
}

// Cleaner deletes rows past retention
type Cleaner interface {
	Cleanup(ctx context.Context, policy domain.RetentionPolicy) (domain.CleanupResult, error)
}

// SnapshotSource builds the alert metrics snapshot
type SnapshotSource interface {
	Snapshot(ctx context.Context) (domain.MetricsSnapshot, error)
}

// AlertEvaluator evaluates alert rules against a snapshot
type AlertEvaluator interface {
	Evaluate(ctx context.Context, snapshot domain.MetricsSnapshot) ([]*domain.AlertEvent, error)
}

// Deps wires the producers. Producers whose dependencies are nil are not registered.
type Deps struct {
	Queue        Enqueuer
	Catalog      Catalog
	Marketplaces Marketplaces
	Health       HealthProber
	Cleaner      Cleaner
	Metrics      SnapshotSource
	Alerts       AlertEvaluator
	Logger       *slog.Logger
	Now          func() time.Time
}

type producers struct {
	Deps
}

// RegisterProducers installs the built-in producer of every task kind it has dependencies for
func RegisterProducers(s *Scheduler, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = s.logger
	}
	p := &producers{Deps: d}

	if d.Queue != nil && d.Catalog != nil && d.Marketplaces != nil {
		s.Register(domain.TaskProductSync, ProducerFunc(p.productSync))
		s.Register(domain.TaskStockUpdate, ProducerFunc(p.stockUpdate))
		s.Register(domain.TaskPriceUpdate, ProducerFunc(p.priceUpdate))
	}
	if d.Queue != nil && d.Marketplaces != nil {
		s.Register(domain.TaskOrderSync, ProducerFunc(p.orderSync))
	}
	if d.Queue != nil && d.Health != nil {
		s.Register(domain.TaskHealthCheck, ProducerFunc(p.healthCheck))
	}
	if d.Queue != nil && d.Cleaner != nil {
		s.Register(domain.TaskLogCleanup, ProducerFunc(p.logCleanup))
	}
	if d.Queue != nil {
		s.Register(domain.TaskRetrySweep, ProducerFunc(p.retrySweep))
	}
	if d.Metrics != nil && d.Alerts != nil {
		s.Register(domain.TaskAlertEvaluation, ProducerFunc(p.alertEvaluation))
	}
}

func (p *producers) productSync(ctx context.Context, task *domain.ScheduledTask) (int, error) {
	limit := task.Params().Int("batch_size", defaultProductBatch)
	before := p.Now().Add(-ProductStaleAfter)

	return p.perMarketplace(ctx, func(mkt string) (int, error) {
		products, err := p.Catalog.StaleProducts(ctx, mkt, before, limit)
		if err != nil {
			return 0, fmt.Errorf("failed to select stale products: %w", err)
		}
		n := 0
		for _, prod := range products {
			if _, err := p.Queue.Enqueue(ctx, domain.JobTypeProductSync, mkt,
				domain.ProductSyncPayload{ProductID: prod.ProductID}, domain.PriorityNormal); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	})
}

func (p *producers) orderSync(ctx context.Context, task *domain.ScheduledTask) (int, error) {
	now := p.Now()
	payload := domain.OrderSyncPayload{
		Since: now.Add(-OrderSyncWindow),
		Until: now,
		Limit: task.Params().Int("limit", 0),
	}

	return p.perMarketplace(ctx, func(mkt string) (int, error) {
		if _, err := p.Queue.Enqueue(ctx, domain.JobTypeOrderSync, mkt, payload, domain.PriorityHigh); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

func (p *producers) stockUpdate(ctx context.Context, task *domain.ScheduledTask) (int, error) {
	params := task.Params()
	limit := params.Int("batch_size", defaultDriftBatch)
	batch := params.Bool("batch", false)
	before := p.Now().Add(-DriftStaleAfter)

	return p.perMarketplace(ctx, func(mkt string) (int, error) {
		products, err := p.Catalog.StockDrift(ctx, mkt, before, limit)
		if err != nil {
			return 0, fmt.Errorf("failed to select stock drift: %w", err)
		}
		if len(products) == 0 {
			return 0, nil
		}

		payloads := make([]domain.Payload, 0, len(products))
		for _, prod := range products {
			payloads = append(payloads, domain.StockUpdatePayload{ProductID: prod.ProductID, Quantity: prod.LocalStock})
		}

		if batch {
			_, ids, err := p.Queue.EnqueueBatch(ctx, domain.JobTypeStockUpdate, mkt, payloads, domain.PriorityHigh)
			return len(ids), err
		}
		n := 0
		for _, payload := range payloads {
			if _, err := p.Queue.Enqueue(ctx, domain.JobTypeStockUpdate, mkt, payload, domain.PriorityHigh); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	})
}

func (p *producers) priceUpdate(ctx context.Context, task *domain.ScheduledTask) (int, error) {
	limit := task.Params().Int("batch_size", defaultDriftBatch)
	before := p.Now().Add(-DriftStaleAfter)

	return p.perMarketplace(ctx, func(mkt string) (int, error) {
		products, err := p.Catalog.PriceDrift(ctx, mkt, before, limit)
		if err != nil {
			return 0, fmt.Errorf("failed to select price drift: %w", err)
		}
		n := 0
		for _, prod := range products {
			if prod.LocalPrice <= 0 {
				p.Logger.Warn("Skipping product without a price",
					slog.String("marketplace", mkt),
					slog.String("product_id", prod.ProductID),
				)
				continue
			}
			if _, err := p.Queue.Enqueue(ctx, domain.JobTypePriceUpdate, mkt,
				domain.PriceUpdatePayload{ProductID: prod.ProductID, Price: prod.LocalPrice}, domain.PriorityNormal); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	})
}

// perMarketplace runs fn for every marketplace. A failing marketplace does not
// stop the others; the joined error fails the task.
func (p *producers) perMarketplace(ctx context.Context, fn func(mkt string) (int, error)) (int, error) {
	total := 0
	var errs []error
	for _, mkt := range p.Marketplaces.Names() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := fn(mkt)
		total += n
		if err != nil {
			p.Logger.Error("Producer failed for marketplace",
				slog.String("marketplace", mkt),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", mkt, err))
		}
	}
	return total, errors.Join(errs...)
}

func (p *producers) healthCheck(ctx context.Context, _ *domain.ScheduledTask) (int, error) {
	report := p.Health.Refresh(ctx)
	if report.Status.Healthy() {
		return 0, nil
	}

	var degraded []string
	for _, c := range report.Checks {
		if !c.Status.Healthy() {
			degraded = append(degraded, fmt.Sprintf("%s=%s", c.Name, c.Status))
		}
	}

	payload := domain.SendAlertPayload{
		Title:    "System health check",
		Message:  fmt.Sprintf("System status is %s: %s", report.Status, strings.Join(degraded, ", ")),
		Severity: healthSeverity(report.Status),
	}
	if _, err := p.Queue.Enqueue(ctx, domain.JobTypeSendAlert, "", payload, domain.PriorityCritical); err != nil {
		return 0, err
	}
	return 1, nil
}

func healthSeverity(s domain.HealthStatus) domain.Severity {
	switch s {
	case domain.HealthCritical:
		return domain.SeverityCritical
	case domain.HealthError:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

func (p *producers) logCleanup(ctx context.Context, task *domain.ScheduledTask) (int, error) {
	params := task.Params()
	retention := days(params.Int("retention_days", defaultRetention))
	healthRetention := days(params.Int("health_retention_days", defaultHealthDays))
	now := p.Now()

	result, err := p.Cleaner.Cleanup(ctx, domain.RetentionPolicy{
		Logs:              now.Add(-retention),
		HealthLogs:        now.Add(-healthRetention),
		WebhooksProcessed: now.Add(-retention),
		WebhooksFailed:    now.Add(-days(failedWebhookDays)),
		AlertEvents:       now.Add(-retention),
		TaskExecutions:    now.Add(-retention),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up logs: %w", err)
	}

	purged, err := p.Queue.Purge(ctx, retention)
	if err != nil {
		return 0, err
	}
	result.Jobs = purged

	p.Logger.Info("Cleanup finished",
		slog.Int64("logs", result.Logs),
		slog.Int64("health_logs", result.HealthLogs),
		slog.Int64("webhook_logs", result.WebhookLogs),
		slog.Int64("alert_events", result.AlertEvents),
		slog.Int64("task_executions", result.TaskExecutions),
		slog.Int64("jobs", result.Jobs),
	)
	return 0, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func (p *producers) retrySweep(ctx context.Context, _ *domain.ScheduledTask) (int, error) {
	return p.Queue.RetrySweep(ctx)
}

func (p *producers) alertEvaluation(ctx context.Context, _ *domain.ScheduledTask) (int, error) {
	snapshot, err := p.Metrics.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to build metrics snapshot: %w", err)
	}
	events, err := p.Alerts.Evaluate(ctx, snapshot)
	if err != nil {
		return 0, err
	}
	if len(events) > 0 {
		p.Logger.Info("Alerts fired", slog.Int("count", len(events)))
	}
	return 0, nil
}
