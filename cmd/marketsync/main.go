package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/marketsync/cmd/marketsync/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := commands.NewApp(commands.OpenContainer)
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
