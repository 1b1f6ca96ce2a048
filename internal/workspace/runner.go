package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

// DefaultTestTimeout bounds a single test run.
const DefaultTestTimeout = 2 * time.Minute

// ShellRunner runs the project's test command on the host.
type ShellRunner struct {
	root        string
	command     string
	timeout     time.Duration
	outputLimit int
	logger      *slog.Logger
}

// ShellRunnerConfig configures a ShellRunner.
type ShellRunnerConfig struct {
	Root        string
	Command     string
	Timeout     time.Duration
	OutputLimit int
}

// NewShellRunner returns a runner for cfg. Zero values take defaults.
func NewShellRunner(cfg ShellRunnerConfig, logger *slog.Logger) *ShellRunner {
	if cfg.Command == "" {
		cfg.Command = "npm test"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellRunner{
		root:        cfg.Root,
		command:     cfg.Command,
		timeout:     cfg.Timeout,
		outputLimit: cfg.OutputLimit,
		logger:      logger,
	}
}

// Run executes the test command. A zero exit status is a success; any other
// outcome is a failed result carrying the combined output. The only error
// returned is the caller's context error.
func (r *ShellRunner) Run(ctx context.Context) (domain.TestResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out := NewOutputBuffer(r.outputLimit)
	cmd := exec.CommandContext(runCtx, "sh", "-c", r.command)
	cmd.Dir = r.root
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() != nil {
		return domain.TestResult{}, ctx.Err()
	}

	r.logger.Info("Test command finished",
		"command", r.command,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return interpretRun(err, runCtx.Err(), r.timeout, out.String()), nil
}

func interpretRun(runErr, timeoutErr error, timeout time.Duration, output string) domain.TestResult {
	output = strings.TrimRight(output, "\n")
	switch {
	case runErr == nil:
		return domain.TestResult{Success: true, Message: output}
	case errors.Is(timeoutErr, context.DeadlineExceeded):
		return domain.TestResult{Message: joinOutput(fmt.Sprintf("tests timed out after %s", timeout), output)}
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return domain.TestResult{Message: output}
		}
		return domain.TestResult{Message: joinOutput(fmt.Sprintf("could not run tests: %v", runErr), output)}
	}
}

func joinOutput(head, output string) string {
	if output == "" {
		return head
	}
	return head + "\n" + output
}
