package launcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/taskrelay/internal/logsink"
)

// DockerAPI is the subset of the Docker client used to run workers.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerOptions configures containerized workers.
type DockerOptions struct {
	Image       string
	CPULimit    string // e.g. "2", "0.5"
	MemLimit    string // e.g. "2g", "512m"
	NetworkMode string // "host" lets workers reach a browser on localhost
	ScriptDir   string // bind-mounted read-only at the same path
}

// DockerLauncher runs each worker in its own container.
type DockerLauncher struct {
	client   DockerAPI
	store    SessionStore
	opts     DockerOptions
	memLimit int64
	cpuQuota int64

	ctx    context.Context //nolint:containedctx // lifetime of all workers
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Launcher = (*DockerLauncher)(nil) //nolint:gochecknoglobals // compile-time check

// NewDockerClient connects to the Docker daemon at host (empty for the environment default).
func NewDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("launcher.NewDockerClient: %w", err)
	}
	return c, nil
}

func NewDockerLauncher(api DockerAPI, store SessionStore, opts DockerOptions) (*DockerLauncher, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("launcher.NewDockerLauncher: image is required")
	}

	memLimit, err := parseMemoryLimit(opts.MemLimit)
	if err != nil {
		return nil, fmt.Errorf("launcher.NewDockerLauncher: %w", err)
	}
	cpuQuota, err := parseCPULimit(opts.CPULimit)
	if err != nil {
		return nil, fmt.Errorf("launcher.NewDockerLauncher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DockerLauncher{
		client:   api,
		store:    store,
		opts:     opts,
		memLimit: memLimit,
		cpuQuota: cpuQuota,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Launch accepts cmd for sessionID and runs its container in the background.
// Container creation errors are reported in the session log.
func (d *DockerLauncher) Launch(_ context.Context, sessionID uuid.UUID, cmd Command) error {
	if !d.store.Exists(sessionID) {
		return fmt.Errorf("launcher.DockerLauncher.Launch: %w", ErrSessionNotFound)
	}

	d.wg.Add(1)
	go d.run(sessionID, cmd)
	return nil
}

func (d *DockerLauncher) run(sessionID uuid.UUID, cmd Command) {
	defer d.wg.Done()

	name := label(cmd)
	sink := logsink.New(d.store, sessionID)
	logger := log.With().Str("session_id", sessionID.String()).Str("image", d.opts.Image).Logger()
	ctx := d.ctx

	containerID, err := d.create(ctx, sessionID, cmd)
	if err != nil {
		logger.Warn().Err(err).Msg("launcher: container create failed")
		sink.Append(spawnFailedRecord(name, err))
		return
	}
	defer d.remove(containerID)

	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		logger.Warn().Err(err).Msg("launcher: container start failed")
		sink.Append(spawnFailedRecord(name, err))
		return
	}

	logger.Info().Str("container_id", shortID(containerID)).Msg("launcher: worker container started")

	var (
		g    errgroup.Group
		code int64
	)
	g.Go(func() error { return d.pumpLogs(ctx, containerID, sink) })
	g.Go(func() error {
		var werr error
		code, werr = d.wait(ctx, containerID)
		return werr
	})

	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Msg("launcher: container supervision failed")
		sink.Append(failedRecord(fmt.Sprintf("%s failed: %v", name, err)))
		return
	}

	sink.Append(exitCodeRecord(name, code))
	logger.Info().Int64("exit_code", code).Msg("launcher: worker container exited")
}

func (d *DockerLauncher) create(ctx context.Context, sessionID uuid.UUID, cmd Command) (string, error) {
	env := append([]string{"TASKRELAY_SESSION_ID=" + sessionID.String()}, cmd.Env...)

	cfg := &container.Config{
		Image:      d.opts.Image,
		Entrypoint: []string{cmd.Executable},
		Cmd:        cmd.Args,
		Env:        env,
		WorkingDir: cmd.Dir,
		Tty:        false,
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   d.memLimit,
			CPUQuota: d.cpuQuota,
		},
		NetworkMode: container.NetworkMode(d.opts.NetworkMode),
	}
	if d.opts.ScriptDir != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   d.opts.ScriptDir,
			Target:   d.opts.ScriptDir,
			ReadOnly: true,
		}}
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "taskrelay-"+sessionID.String())
	if err != nil {
		return "", fmt.Errorf("launcher.DockerLauncher.create: %w", err)
	}
	return resp.ID, nil
}

// pumpLogs follows the container's multiplexed output into the session sink.
func (d *DockerLauncher) pumpLogs(ctx context.Context, containerID string, sink *logsink.Sink) error {
	reader, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("launcher.DockerLauncher.pumpLogs: %w", err)
	}
	defer reader.Close()

	stdout, stderr := sink.Stdout(), sink.Stderr()
	_, err = stdcopy.StdCopy(stdout, stderr, reader)
	_ = stdout.Close()
	_ = stderr.Close()
	if err != nil {
		return fmt.Errorf("launcher.DockerLauncher.pumpLogs: %w", err)
	}
	return nil
}

func (d *DockerLauncher) wait(ctx context.Context, containerID string) (int64, error) {
	waitCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case result := <-waitCh:
		if result.Error != nil {
			return result.StatusCode, fmt.Errorf("launcher.DockerLauncher.wait: %s", result.Error.Message)
		}
		return result.StatusCode, nil
	case err := <-errCh:
		return -1, fmt.Errorf("launcher.DockerLauncher.wait: %w", err)
	case <-ctx.Done():
		return -1, fmt.Errorf("launcher.DockerLauncher.wait: %w", ctx.Err())
	}
}

func (d *DockerLauncher) remove(containerID string) {
	err := d.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	if err != nil {
		log.Warn().Err(err).Str("container_id", shortID(containerID)).Msg("launcher: container remove failed")
	}
}

// Wait blocks until every accepted container has finished and been removed.
func (d *DockerLauncher) Wait() {
	d.wg.Wait()
}

// Shutdown stops following running containers, waits for cleanup, and
// closes the Docker client.
func (d *DockerLauncher) Shutdown(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("launcher.DockerLauncher.Shutdown: %w", ctx.Err())
	}

	if err := d.client.Close(); err != nil {
		return fmt.Errorf("launcher.DockerLauncher.Shutdown: %w", err)
	}
	return nil
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
