package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/marketsync/internal/config"
	"github.com/cuongbtq/marketsync/internal/container"
	"github.com/cuongbtq/marketsync/internal/scheduler"
	"github.com/cuongbtq/marketsync/shared/logger"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      "worker-service",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer c.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Worker.Start(gctx)
	})

	if c.Broker != nil {
		g.Go(func() error {
			if err := c.Worker.ConsumeWakeups(gctx, c.Broker); err != nil {
				appLogger.Warn("Wake-up consumer unavailable, relying on polling",
					slog.Any("error", err),
				)
			}
			return nil
		})
	}

	if cfg.Scheduler.Enabled {
		runner, err := startScheduler(gctx, c, appLogger.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			runner.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Received shutdown signal, stopping worker")

		done := make(chan struct{})
		go func() {
			c.Worker.Stop()
			close(done)
		}()

		select {
		case <-done:
			appLogger.Info("Worker stopped gracefully")
		case <-time.After(cfg.Worker.ShutdownTimeout):
			appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
		}
		return nil
	})

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", c.Worker.ID()),
		slog.Bool("scheduler", cfg.Scheduler.Enabled),
		slog.Bool("broker", c.Broker != nil),
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker service failed: %w", err)
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// startScheduler seeds the built-in tasks and ticks the scheduler on its cron spec.
// Retry sweeps run as the retry_sweep task.
func startScheduler(ctx context.Context, c *container.Container, logger *slog.Logger) (*scheduler.Runner, error) {
	created, err := c.Scheduler.EnsureDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to seed scheduled tasks: %w", err)
	}

	runner := scheduler.NewRunner(logger)
	if err := runner.Add("scheduler_tick", c.Config.Scheduler.TickSpec, c.Scheduler.TickFunc()); err != nil {
		return nil, err
	}
	if err := runner.Start(); err != nil {
		return nil, err
	}

	logger.Info("Scheduler started",
		slog.String("tick_spec", c.Config.Scheduler.TickSpec),
		slog.Int("tasks_created", created),
	)
	return runner, nil
}
