// Package main implements tddctl, a command-line driver for the TDD mentor
// session stored in the local workspace database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashureev/tdd-mentor/internal/api"
	"github.com/ashureev/tdd-mentor/internal/app"
	"github.com/ashureev/tdd-mentor/internal/config"
)

var version = "dev"

// opener builds the workflow for one command invocation.
type opener func(ctx context.Context) (api.Workflow, func() error, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, closeSession := newRootCmd(openLocal)
	err := root.ExecuteContext(ctx)
	if closeErr := closeSession(); closeErr != nil {
		fmt.Fprintln(os.Stderr, "close session:", closeErr)
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}

// openLocal wires the same components as the server against the local
// database, logging warnings to stderr.
func openLocal(ctx context.Context) (api.Workflow, func() error, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	a, err := app.New(ctx, cfg, logger, app.WithWarner(stderrWarner{}))
	if err != nil {
		return nil, nil, err
	}
	return a.Workflow, a.Close, nil
}

type stderrWarner struct{}

func (stderrWarner) Warn(msg string) {
	fmt.Fprintln(os.Stderr, "warning:", msg)
}
