package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/Clark-Hu/cinelist/internal/logging"
)

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{})
	app := &cli.Command{
		Name:     "cinelist",
		Usage:    "Browse movies, keep a watchlist and write reviews",
		Commands: runner.register(),
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger := runner.logger
		if logger == nil {
			logger = logging.New(os.Stderr, logging.Options{})
		}
		logger.Fatal("application error", "err", err)
	}
}
