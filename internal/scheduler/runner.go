package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTickSpec runs the scheduler tick once a minute
const DefaultTickSpec = "@every 1m"

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err.Error())...)
}

// Runner drives periodic functions on cron specs. A run is skipped while the
// previous run of the same entry is still going.
type Runner struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a stopped Runner
func NewRunner(logger *slog.Logger) *Runner {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add schedules fn under name on a cron spec such as "@every 1m" or "*/5 * * * *"
func (r *Runner) Add(name, spec string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("runner entry %s already registered", name)
	}

	id, err := r.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := fn(r.ctx); err != nil {
			r.logger.Error("Scheduled run failed",
				slog.String("entry", name),
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.Debug("Scheduled run finished",
			slog.String("entry", name),
			slog.Duration("duration", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	r.entries[name] = id
	r.logger.Info("Runner entry scheduled", slog.String("entry", name), slog.String("spec", spec))
	return nil
}

// Start begins firing entries
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("runner already started")
	}
	r.cron.Start()
	r.started = true
	r.logger.Info("Runner started", slog.Int("entries", len(r.entries)))
	return nil
}

// Stop cancels running entries and waits for them to return
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}
	r.cancel()
	<-r.cron.Stop().Done()
	r.started = false
	r.logger.Info("Runner stopped")
}

// TickFunc adapts Scheduler.Tick for the Runner
func (s *Scheduler) TickFunc() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.Tick(ctx, s.now())
		return err
	}
}
