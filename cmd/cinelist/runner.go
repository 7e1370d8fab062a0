package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/Clark-Hu/cinelist/internal/config"
	"github.com/Clark-Hu/cinelist/internal/logging"
)

// Runner holds what every command needs and builds the App on demand.
type Runner struct {
	output io.Writer
	logger *log.Logger
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Output io.Writer
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{output: opts.Output}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{
		serveCommand, migrateCommand, loginCommand, logoutCommand, whoamiCommand, watchlistCommand, reviewCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	r.logger = logging.New(os.Stderr, logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	return cfg, nil
}

// open builds the App and recovers the persisted session before returning.
func (r *Runner) open(ctx context.Context) (*App, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	app, err := NewApp(ctx, cfg, r.logger)
	if err != nil {
		return nil, err
	}
	if err := app.holder.Start(ctx); err != nil {
		r.logger.Warn("continuing signed out", "err", err)
	}
	return app, nil
}

func (r *Runner) writePlainln(format string, args ...any) {
	fmt.Fprintf(r.output, format+"\n", args...)
}

func (r *Runner) writeJSON(data any) error {
	enc := json.NewEncoder(r.output)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

var errMovieRequired = errors.New("movie id is required")

func movieArg(cmd *cli.Command) (int, error) {
	id := cmd.IntArg("movie")
	if id <= 0 {
		return 0, errMovieRequired
	}
	return id, nil
}
