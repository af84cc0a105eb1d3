package commands

import (
	"time"

	"github.com/urfave/cli/v3"
)

// NewApp builds the command tree. Every action opens its container through open.
func NewApp(open Opener) *cli.Command {
	a := &actions{open: open}

	taskName := func() cli.Flag {
		return &cli.StringFlag{
			Name:     "name",
			Usage:    "scheduled task name",
			Required: true,
		}
	}

	return &cli.Command{
		Name:  "marketsync",
		Usage: "Operate the marketplace sync queue, scheduler and alerts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the configuration file",
				Value:   "configs/worker-service/config.yaml",
				Sources: cli.EnvVars("MARKETSYNC_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to an env file",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:  "notify",
				Usage: "publish wake-ups to the broker for jobs enqueued by this command",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply the schema and seed the built-in scheduled tasks",
				Action: a.migrate,
			},
			{
				Name:   "tick",
				Usage:  "Run every due scheduled task once",
				Action: a.tick,
			},
			{
				Name:  "drain",
				Usage: "Claim and execute pending jobs until the queue is empty or the limit is reached",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum jobs to claim (0 uses worker.drain_limit)",
					},
				},
				Action: a.drain,
			},
			{
				Name:  "cron",
				Usage: "Run a cron action the same way the HTTP trigger does",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "action",
						Usage:    "sync_products, sync_stock, import_orders, update_prices, cleanup, health_check or all",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "override the batch size of the triggered tasks",
					},
				},
				Action: a.cron,
			},
			{
				Name:  "task",
				Usage: "Scheduled task commands",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List scheduled tasks",
						Action: a.taskList,
					},
					{
						Name:  "run",
						Usage: "Run a task now without moving its schedule",
						Flags: []cli.Flag{
							taskName(),
							&cli.IntFlag{
								Name:  "limit",
								Usage: "override the batch size",
							},
						},
						Action: a.taskRun,
					},
					{
						Name:   "stats",
						Usage:  "Show execution statistics of a task",
						Flags:  []cli.Flag{taskName()},
						Action: a.taskStats,
					},
				},
			},
			{
				Name:  "queue",
				Usage: "Job queue commands",
				Commands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "Show queue statistics",
						Action: a.queueStats,
					},
					{
						Name:   "sweep",
						Usage:  "Requeue failed jobs whose cooldown elapsed and recover stuck jobs",
						Action: a.queueSweep,
					},
					{
						Name:  "retry",
						Usage: "Reset a failed or dead job to pending",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "id",
								Usage:    "job id",
								Required: true,
							},
						},
						Action: a.queueRetry,
					},
					{
						Name:  "purge",
						Usage: "Delete finished jobs older than the given age",
						Flags: []cli.Flag{
							&cli.DurationFlag{
								Name:  "older-than",
								Usage: "minimum age of purged jobs",
								Value: 30 * 24 * time.Hour,
							},
						},
						Action: a.queuePurge,
					},
				},
			},
			{
				Name:  "alerts",
				Usage: "Alert commands",
				Commands: []*cli.Command{
					{
						Name:   "evaluate",
						Usage:  "Collect a metrics snapshot and evaluate every active rule",
						Action: a.alertsEvaluate,
					},
				},
			},
			{
				Name:   "health",
				Usage:  "Run a fresh health check; exits 2 when critical",
				Action: a.health,
			},
		},
	}
}
