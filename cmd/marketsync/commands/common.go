// Package commands implements the marketsync operator CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/marketsync/internal/config"
	"github.com/cuongbtq/marketsync/internal/container"
	"github.com/cuongbtq/marketsync/shared/logger"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

// Opener builds the container a command runs against
type Opener func(ctx context.Context, cmd *cli.Command) (*container.Container, error)

// OpenContainer loads the env file and config named by the global flags and wires a container.
// The broker is left out unless --notify is set.
func OpenContainer(ctx context.Context, cmd *cli.Command) (*container.Container, error) {
	if envFile := cmd.String("env"); envFile != "" {
		// a missing env file is not an error
		_ = godotenv.Load(envFile)
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       "stderr",
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      "marketsync-cli",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var opts []container.Option
	if !cmd.Bool("notify") {
		opts = append(opts, container.WithoutBroker())
	}
	return container.New(ctx, cfg, appLogger.Logger, opts...)
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
