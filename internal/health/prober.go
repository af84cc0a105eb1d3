// Package health probes the system dependencies and builds the metric
// snapshots alert rules are evaluated against.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/marketplace"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

const reportCacheKey = "health_report"

// Queue thresholds
const (
	StuckAfter       = time.Hour
	FailedWarnLimit  = 10
	PendingWarnLimit = 100
)

// Pinger is anything that can report connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// QueueStatter reports queue statistics
type QueueStatter interface {
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// LogWriter persists health results
type LogWriter interface {
	WriteLog(ctx context.Context, entry domain.LogEntry) error
}

// Check is the result of one probe
type Check struct {
	Name      string              `json:"name"`
	Status    domain.HealthStatus `json:"status"`
	Message   string              `json:"message,omitempty"`
	LatencyMs float64             `json:"latency_ms"`
	Details   map[string]any      `json:"details,omitempty"`
}

// Report aggregates every check. Status is the worst check status.
type Report struct {
	Status    domain.HealthStatus `json:"status"`
	CheckedAt time.Time           `json:"checked_at"`
	Checks    []Check             `json:"checks"`

	// ResponseTimesMs holds per-marketplace probe latency of reachable marketplaces
	ResponseTimesMs map[string]float64 `json:"response_times_ms,omitempty"`
}

// Config configures the prober
type Config struct {
	CacheTTL     time.Duration
	CheckTimeout time.Duration
}

// Prober runs health checks concurrently and caches the report
type Prober struct {
	db           Pinger
	dependencies map[string]Pinger
	registry     *marketplace.Registry
	queue        QueueStatter
	logs         LogWriter
	cache        *cache.Cache
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Prober
type Option func(*Prober)

// WithDependency adds an optional dependency (redis, rabbitmq). Its failure degrades to warning.
func WithDependency(name string, p Pinger) Option {
	return func(pr *Prober) { pr.dependencies[name] = p }
}

// WithMarketplaces probes every adapter of the registry
func WithMarketplaces(r *marketplace.Registry) Option {
	return func(pr *Prober) { pr.registry = r }
}

// WithQueue adds the job queue check
func WithQueue(q QueueStatter) Option {
	return func(pr *Prober) { pr.queue = q }
}

// WithLogWriter persists each report to the logs table
func WithLogWriter(w LogWriter) Option {
	return func(pr *Prober) { pr.logs = w }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(pr *Prober) { pr.now = now }
}

// NewProber creates a Prober. The database check is mandatory; its failure is critical.
func NewProber(db Pinger, cfg Config, logger *slog.Logger, opts ...Option) *Prober {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 10 * time.Second
	}
	p := &Prober{
		db:           db,
		dependencies: make(map[string]Pinger),
		cache:        cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check returns the cached report, probing when the cache is empty
func (p *Prober) Check(ctx context.Context) Report {
	if cached, found := p.cache.Get(reportCacheKey); found {
		return cached.(Report)
	}
	return p.Refresh(ctx)
}

// Refresh probes every dependency now and replaces the cached report
func (p *Prober) Refresh(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		checks []Check
		times  = make(map[string]float64)
	)
	add := func(c Check) {
		mu.Lock()
		defer mu.Unlock()
		checks = append(checks, c)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		add(p.ping(gctx, "database", p.db, domain.HealthCritical))
		return nil
	})
	for name, dep := range p.dependencies {
		g.Go(func() error {
			add(p.ping(gctx, name, dep, domain.HealthWarning))
			return nil
		})
	}
	if p.registry != nil {
		g.Go(func() error {
			c, rt := p.checkMarketplaces(gctx)
			mu.Lock()
			for k, v := range rt {
				times[k] = v
			}
			mu.Unlock()
			add(c)
			return nil
		})
	}
	if p.queue != nil {
		g.Go(func() error {
			add(p.checkQueue(gctx))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	report := Report{
		Status:          domain.HealthHealthy,
		CheckedAt:       p.now(),
		Checks:          checks,
		ResponseTimesMs: times,
	}
	for _, c := range checks {
		report.Status = report.Status.Worse(c.Status)
	}

	p.cache.SetDefault(reportCacheKey, report)
	p.persist(ctx, report)

	if !report.Status.Healthy() {
		p.logger.Warn("Health check degraded", slog.String("status", string(report.Status)))
	}
	return report
}

func (p *Prober) ping(ctx context.Context, name string, target Pinger, failStatus domain.HealthStatus) Check {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	err := target.Ping(ctx)
	c := Check{Name: name, Status: domain.HealthHealthy, LatencyMs: ms(time.Since(start))}
	if err != nil {
		c.Status = failStatus
		c.Message = err.Error()
	}
	return c
}

func (p *Prober) checkMarketplaces(ctx context.Context) (Check, map[string]float64) {
	names := p.registry.Names()
	times := make(map[string]float64, len(names))
	details := make(map[string]any, len(names))

	var (
		mu      sync.Mutex
		healthy int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			adapter, err := p.registry.Get(name)
			if err != nil {
				return nil
			}
			c := p.ping(gctx, name, PingFunc(adapter.TestConnection), domain.HealthError)

			mu.Lock()
			defer mu.Unlock()
			if c.Status.Healthy() {
				healthy++
				times[name] = c.LatencyMs
				details[name] = "healthy"
			} else {
				details[name] = c.Message
			}
			return nil
		})
	}
	_ = g.Wait()

	total := len(names)
	details["healthy_count"] = healthy
	details["total_count"] = total

	status := domain.HealthHealthy
	switch {
	case total == 0:
	case healthy == 0:
		status = domain.HealthCritical
	case float64(healthy) < float64(total)*0.5:
		status = domain.HealthError
	case healthy < total:
		status = domain.HealthWarning
	}

	return Check{
		Name:    "marketplaces",
		Status:  status,
		Message: fmt.Sprintf("%d of %d marketplaces reachable", healthy, total),
		Details: details,
	}, times
}

func (p *Prober) checkQueue(ctx context.Context) Check {
	start := time.Now()
	stats, err := p.queue.Stats(ctx)
	c := Check{Name: "queue", Status: domain.HealthHealthy, LatencyMs: ms(time.Since(start))}
	if err != nil {
		c.Status = domain.HealthError
		c.Message = err.Error()
		return c
	}

	c.Details = map[string]any{
		"pending":          stats.Pending,
		"failed":           stats.Failed,
		"stuck_processing": stats.StuckProcessing,
	}
	switch {
	case stats.StuckProcessing > 0:
		c.Status = domain.HealthError
		c.Message = fmt.Sprintf("%d jobs processing for over %s", stats.StuckProcessing, StuckAfter)
	case stats.Failed > FailedWarnLimit:
		c.Status = domain.HealthWarning
		c.Message = fmt.Sprintf("%d failed jobs", stats.Failed)
	case stats.Pending > PendingWarnLimit:
		c.Status = domain.HealthWarning
		c.Message = fmt.Sprintf("%d pending jobs", stats.Pending)
	}
	return c
}

func (p *Prober) persist(ctx context.Context, r Report) {
	if p.logs == nil {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		return
	}

	level := "info"
	if !r.Status.Healthy() {
		level = "warning"
	}
	err = p.logs.WriteLog(ctx, domain.LogEntry{
		Channel:   domain.LogChannelHealth,
		Level:     level,
		Message:   "health check: " + string(r.Status),
		Context:   body,
		CreatedAt: r.CheckedAt,
	})
	if err != nil {
		p.logger.Error("Failed to persist health report", slog.String("error", err.Error()))
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
