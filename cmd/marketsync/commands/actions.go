package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/marketsync/internal/container"
	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/scheduler"
	"github.com/urfave/cli/v3"
)

type actions struct {
	open Opener
}

// with opens a container for the duration of fn
func (a *actions) with(ctx context.Context, cmd *cli.Command, fn func(c *container.Container) error) error {
	c, err := a.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func limitOptions(limit int) []scheduler.RunOption {
	if limit <= 0 {
		return nil
	}
	return []scheduler.RunOption{scheduler.WithParam("batch_size", limit), scheduler.WithParam("limit", limit)}
}

func (a *actions) migrate(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		if err := c.Store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		created, err := c.Scheduler.EnsureDefaults(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed scheduled tasks: %w", err)
		}
		c.Logger.Info("Schema is up to date", slog.Int("tasks_created", created))
		return printJSON(cmd, map[string]int{"tasks_created": created})
	})
}

func (a *actions) tick(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		result, err := c.Scheduler.Tick(ctx, time.Now())
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func (a *actions) drain(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		limit := cmd.Int("limit")
		if limit <= 0 {
			limit = c.Config.Worker.DrainLimit
		}
		result, err := c.Worker.Drain(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

type cronResult struct {
	Action       string                 `json:"action"`
	JobsEnqueued int                    `json:"jobs_enqueued"`
	Tasks        []scheduler.TaskResult `json:"tasks"`
}

func (a *actions) cron(ctx context.Context, cmd *cli.Command) error {
	action := cmd.String("action")
	names, ok := scheduler.ActionTasks(action)
	if !ok {
		return cli.Exit(fmt.Sprintf("unknown action %q", action), 1)
	}

	return a.with(ctx, cmd, func(c *container.Container) error {
		out := cronResult{Action: action}
		var firstErr error
		for _, name := range names {
			result, err := c.Scheduler.RunTask(ctx, name, limitOptions(cmd.Int("limit"))...)
			out.JobsEnqueued += result.JobsEnqueued
			out.Tasks = append(out.Tasks, result)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("task %s: %w", name, err)
			}
		}
		if err := printJSON(cmd, out); err != nil {
			return err
		}
		return firstErr
	})
}

func (a *actions) taskList(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		tasks, err := c.Scheduler.Tasks(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, tasks)
	})
}

func (a *actions) taskRun(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		result, err := c.Scheduler.RunTask(ctx, cmd.String("name"), limitOptions(cmd.Int("limit"))...)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func (a *actions) taskStats(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		stats, err := c.Scheduler.TaskStats(ctx, cmd.String("name"))
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	})
}

func (a *actions) queueStats(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		stats, err := c.Queue.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	})
}

func (a *actions) queueSweep(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		n, err := c.Queue.RetrySweep(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"requeued": n})
	})
}

func (a *actions) queueRetry(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		id := cmd.String("id")
		if err := c.Queue.Retry(ctx, id); err != nil {
			return err
		}
		return printJSON(cmd, map[string]string{"id": id, "status": string(domain.JobStatusPending)})
	})
}

func (a *actions) queuePurge(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		n, err := c.Queue.Purge(ctx, cmd.Duration("older-than"))
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int64{"purged": n})
	})
}

func (a *actions) alertsEvaluate(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		snapshot, err := c.Collector.Snapshot(ctx)
		if err != nil {
			return err
		}
		events, err := c.Alerts.Evaluate(ctx, snapshot)
		if err != nil {
			return err
		}
		if events == nil {
			events = []*domain.AlertEvent{}
		}
		return printJSON(cmd, events)
	})
}

func (a *actions) health(ctx context.Context, cmd *cli.Command) error {
	return a.with(ctx, cmd, func(c *container.Container) error {
		report := c.Prober.Refresh(ctx)
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if report.Status == domain.HealthCritical {
			return cli.Exit("system is critical", 2)
		}
		return nil
	})
}
