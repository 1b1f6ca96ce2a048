// Package app assembles the mentor from configuration. Both the HTTP server
// and the command-line client build on it so they share one session.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashureev/tdd-mentor/internal/config"
	"github.com/ashureev/tdd-mentor/internal/cycle"
	"github.com/ashureev/tdd-mentor/internal/generation"
	"github.com/ashureev/tdd-mentor/internal/hint"
	"github.com/ashureev/tdd-mentor/internal/metrics"
	"github.com/ashureev/tdd-mentor/internal/oracle"
	"github.com/ashureev/tdd-mentor/internal/store"
	"github.com/ashureev/tdd-mentor/internal/transcript"
	"github.com/ashureev/tdd-mentor/internal/workflow"
	"github.com/ashureev/tdd-mentor/internal/workspace"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Repo     *store.SQLiteStore
	Machine  *cycle.Machine
	Workflow *workflow.Service
	Project  *workspace.Project
	Metrics  *metrics.Metrics

	closers []func() error
}

// Option customises New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	warner     generation.Warner
	oracle     oracle.Oracle
	runner     workflow.TestRunner
}

// WithRegisterer registers metrics with reg. Without it metrics are
// collected but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithWarner routes pipeline warnings to w.
func WithWarner(w generation.Warner) Option {
	return func(o *options) { o.warner = w }
}

// WithOracle overrides the configured oracle.
func WithOracle(o oracle.Oracle) Option {
	return func(opts *options) { opts.oracle = o }
}

// WithRunner overrides the configured test runner.
func WithRunner(r workflow.TestRunner) Option {
	return func(o *options) { o.runner = r }
}

// New opens the session database, restores the last session and wires the
// workflow around it. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	lock, err := store.AcquireLock(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("lock database: %w", err)
	}
	a.closers = append(a.closers, lock.Release)

	a.Repo, err = store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.closers = append(a.closers, a.Repo.Close)
	if err = a.Repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database health check: %w", err)
	}

	a.Metrics = metrics.New(o.registerer)

	sessions := store.NewSessionStore(a.Repo, cfg.SessionKey, logger)
	restored, loadErr := sessions.Load(ctx)
	if loadErr != nil {
		logger.Warn("Could not restore session, starting fresh", "error", loadErr)
	}
	machineOpts := []cycle.Option{
		cycle.WithPersistTimeout(cfg.PersistTimeout),
		cycle.WithPersistErrorHook(a.Metrics.RecordPersistFailure),
	}
	if restored != nil {
		machineOpts = append(machineOpts, cycle.WithInitial(*restored))
		logger.Info("Session restored", "key", cfg.SessionKey, "phase", restored.Phase)
	}
	a.Machine = cycle.New(sessions, logger, machineOpts...)

	base := BaseOptions(cfg)
	if err = base.Validate(); err != nil {
		return nil, fmt.Errorf("oracle options: %w", err)
	}
	if o.oracle == nil {
		o.oracle, err = NewOracle(cfg, base, logger, a.Metrics)
		if err != nil {
			return nil, err
		}
	}

	profiles, err := generation.DefaultProfiles().WithOptions(base).OverlayFile(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	a.Project = workspace.NewProject(cfg.WorkspaceDir, cfg.Commit.AuthorName, cfg.Commit.AuthorEmail, logger)
	if o.runner == nil {
		o.runner, err = a.newRunner(logger)
		if err != nil {
			return nil, err
		}
	}

	convLog, err := transcript.New(transcript.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize conversation log: %w", err)
	}
	a.closers = append(a.closers, convLog.Close)

	pipelineOpts := []generation.Option{
		generation.WithContextProvider(a.Project),
		generation.WithProfiles(profiles),
		generation.WithLogger(logger),
		generation.WithMetrics(a.Metrics),
	}
	if o.warner != nil {
		pipelineOpts = append(pipelineOpts, generation.WithWarner(o.warner))
	}

	a.Workflow, err = workflow.New(workflow.Deps{
		Machine:         a.Machine,
		Generator:       generation.New(o.oracle, pipelineOpts...),
		Hinter:          hint.New(o.oracle, base, logger, a.Metrics),
		Runner:          o.runner,
		Inserter:        workspace.NewFileInserter(cfg.WorkspaceDir),
		VCS:             a.Project.Git,
		Transcript:      convLog,
		Metrics:         a.Metrics,
		Logger:          logger,
		SessionKey:      cfg.SessionKey,
		DefaultTestFile: cfg.Tests.DefaultFile,
		CommitExclude:   ownedPaths(cfg),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ownedPaths lists the mentor's own files that live inside the workspace.
// SQLite keeps -wal, -shm and -journal files next to the database.
func ownedPaths(cfg *config.Config) []string {
	paths := []string{
		cfg.DBPath, cfg.DBPath + "-wal", cfg.DBPath + "-shm", cfg.DBPath + "-journal",
		store.LockPath(cfg.DBPath),
	}
	if cfg.ConversationLog.Enabled {
		paths = append(paths, cfg.ConversationLog.Dir)
	}
	return workspace.InsidePaths(cfg.WorkspaceDir, paths...)
}

// BaseOptions returns the oracle defaults described by cfg.
func BaseOptions(cfg *config.Config) oracle.Options {
	return oracle.Options{
		Model:       cfg.Oracle.Model,
		MaxTokens:   uint(max(cfg.Oracle.MaxTokens, 0)),
		Temperature: cfg.Oracle.Temperature,
	}
}

// NewOracle builds the configured oracle client.
func NewOracle(cfg *config.Config, base oracle.Options, logger *slog.Logger, m *metrics.Metrics) (oracle.Oracle, error) {
	switch cfg.Oracle.Provider {
	case config.ProviderOpenAI:
		return oracle.NewOpenAIClient(oracle.OpenAIConfig{
			APIKey:      cfg.Oracle.APIKey,
			BaseURL:     cfg.Oracle.BaseURL,
			Defaults:    base,
			Timeout:     cfg.Oracle.Timeout,
			RPS:         cfg.Oracle.RPS,
			Burst:       cfg.Oracle.Burst,
			MaxAttempts: cfg.Oracle.MaxAttempts,
		}, logger, m)
	case config.ProviderFake:
		logger.Warn("Using the offline oracle; generated content is canned")
		return oracle.NewFakeClient(), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
	}
}

func (a *App) newRunner(logger *slog.Logger) (workflow.TestRunner, error) {
	cfg := a.Config
	if cfg.Tests.Runner != config.RunnerDocker {
		return workspace.NewShellRunner(workspace.ShellRunnerConfig{
			Root:        cfg.WorkspaceDir,
			Command:     cfg.Tests.Command,
			Timeout:     cfg.Tests.Timeout,
			OutputLimit: cfg.Tests.OutputLimit,
		}, logger), nil
	}

	dr, err := workspace.NewDockerRunner(workspace.DockerRunnerConfig{
		Root:        cfg.WorkspaceDir,
		Image:       cfg.Tests.Image,
		Command:     cfg.Tests.Command,
		Runtime:     cfg.Tests.Runtime,
		Timeout:     cfg.Tests.Timeout,
		OutputLimit: cfg.Tests.OutputLimit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize docker runner: %w", err)
	}
	a.closers = append(a.closers, dr.Close)
	return dr, nil
}
