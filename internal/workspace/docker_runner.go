package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

const (
	sandboxWorkdir   = "/workspace"
	memoryLimitBytes = 512 * 1024 * 1024 // 512MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 256
)

// DockerRunnerConfig configures a DockerRunner.
type DockerRunnerConfig struct {
	Root        string
	Image       string
	Command     string
	Runtime     string // "" = default (runc), "runsc" = gVisor
	Timeout     time.Duration
	OutputLimit int
}

// DockerRunner runs the test command in a throwaway container with the
// workspace bind-mounted at /workspace.
type DockerRunner struct {
	cli    *client.Client
	cfg    DockerRunnerConfig
	logger *slog.Logger
}

// NewDockerRunner connects to the Docker daemon from the environment.
func NewDockerRunner(cfg DockerRunnerConfig, logger *slog.Logger) (*DockerRunner, error) {
	if cfg.Image == "" {
		return nil, errors.New("docker runner: image is required")
	}
	if cfg.Command == "" {
		cfg.Command = "npm test"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Bind mounts need an absolute host path.
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("docker runner: resolve workspace %q: %w", cfg.Root, err)
	}
	cfg.Root = root

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	runtime := cfg.Runtime
	if runtime == "" {
		runtime = "default"
	}
	logger.Info("Docker test runner initialized", "image", cfg.Image, "runtime", runtime)
	return &DockerRunner{cli: cli, cfg: cfg, logger: logger}, nil
}

// Ping checks that the daemon is reachable.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker: %w", err)
	}
	return nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

// Run executes the test command in a fresh container. Container failures
// become failed results; only the caller's context error is returned.
func (r *DockerRunner) Run(ctx context.Context) (domain.TestResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	out := NewOutputBuffer(r.cfg.OutputLimit)
	exitCode, err := r.run(runCtx, out)
	if ctx.Err() != nil {
		return domain.TestResult{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return interpretRun(runCtx.Err(), runCtx.Err(), r.cfg.Timeout, out.String()), nil
	}
	if err != nil {
		r.logger.Warn("Sandboxed test run failed", "error", err)
		return domain.TestResult{Message: joinOutput(fmt.Sprintf("could not run tests: %v", err), strings.TrimRight(out.String(), "\n"))}, nil
	}
	return domain.TestResult{Success: exitCode == 0, Message: strings.TrimRight(out.String(), "\n")}, nil
}

func (r *DockerRunner) run(ctx context.Context, out io.Writer) (int64, error) {
	if err := r.ensureImage(ctx); err != nil {
		return -1, err
	}

	config, hostConfig := r.containerSpec()
	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("create container: %w", err)
	}
	defer r.remove(resp.ID)

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("wait for container %s: %w", resp.ID, err)
	case status := <-statusCh:
		if status.Error != nil {
			return -1, fmt.Errorf("container %s: %s", resp.ID, status.Error.Message)
		}
		exitCode = status.StatusCode
	}

	logs, err := r.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return exitCode, fmt.Errorf("read container logs: %w", err)
	}
	defer logs.Close()
	if _, err := stdcopy.StdCopy(out, out, logs); err != nil {
		return exitCode, fmt.Errorf("demultiplex container logs: %w", err)
	}

	r.logger.Info("Sandboxed test run finished", "container_id", resp.ID, "exit_code", exitCode)
	return exitCode, nil
}

func (r *DockerRunner) containerSpec() (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image:      r.cfg.Image,
		Cmd:        []string{"sh", "-c", r.cfg.Command},
		WorkingDir: sandboxWorkdir,
		Tty:        false,
		Env:        []string{"CI=true"},
	}
	hostConfig := &container.HostConfig{
		Runtime:     r.cfg.Runtime,
		NetworkMode: container.NetworkMode("none"),
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: r.cfg.Root,
			Target: sandboxWorkdir,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}
	return config, hostConfig
}

func (r *DockerRunner) ensureImage(ctx context.Context) error {
	_, err := r.cli.ImageInspect(ctx, r.cfg.Image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", r.cfg.Image, err)
	}

	r.logger.Info("Pulling test image", "image", r.cfg.Image)
	rc, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", r.cfg.Image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", r.cfg.Image, err)
	}
	return nil
}

// remove force-removes a finished container. It uses a fresh context so a
// cancelled run still cleans up.
func (r *DockerRunner) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	switch {
	case err == nil:
	case errdefs.IsNotFound(err), strings.Contains(err.Error(), "is already in progress"):
		r.logger.Debug("Container already removed", "container_id", containerID)
	default:
		r.logger.Warn("Failed to remove test container", "container_id", containerID, "error", err)
	}
}

func ptr[T any](v T) *T {
	return &v
}
