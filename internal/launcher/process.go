package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/logsink"
)

// DefaultStopGrace is how long a worker gets between SIGTERM and SIGKILL on shutdown.
const DefaultStopGrace = 10 * time.Second

// ProcessLauncher runs workers as local child processes.
type ProcessLauncher struct {
	store     SessionStore
	stopGrace time.Duration

	// Workers outlive the HTTP request that started them; only Shutdown stops them.
	ctx    context.Context //nolint:containedctx // lifetime of all workers
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Launcher = (*ProcessLauncher)(nil) //nolint:gochecknoglobals // compile-time check

func NewProcessLauncher(store SessionStore, stopGrace time.Duration) *ProcessLauncher {
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessLauncher{
		store:     store,
		stopGrace: stopGrace,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Launch spawns cmd for sessionID and returns once the process has started
// (or failed to). The request context is not used to bound the worker.
func (l *ProcessLauncher) Launch(_ context.Context, sessionID uuid.UUID, cmd Command) error {
	if !l.store.Exists(sessionID) {
		return fmt.Errorf("launcher.ProcessLauncher.Launch: %w", ErrSessionNotFound)
	}

	name := label(cmd)
	sink := logsink.New(l.store, sessionID)
	logger := log.With().Str("session_id", sessionID.String()).Str("executable", cmd.Executable).Logger()

	c := exec.CommandContext(l.ctx, cmd.Executable, cmd.Args...) //nolint:gosec // argv built from the task registry
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Cancel = func() error { return c.Process.Signal(syscall.SIGTERM) }
	c.WaitDelay = l.stopGrace

	// os/exec copies into the sinks itself, so WaitDelay also bounds a
	// grandchild that keeps the pipes open after the worker exits.
	stdout, stderr := sink.Stdout(), sink.Stderr()
	c.Stdout = stdout
	c.Stderr = stderr

	if err := c.Start(); err != nil {
		logger.Warn().Err(err).Msg("launcher: worker failed to start")
		sink.Append(spawnFailedRecord(name, err))
		return nil
	}

	logger.Info().Int("pid", c.Process.Pid).Msg("launcher: worker started")

	l.wg.Add(1)
	go l.supervise(c, stdout, stderr, sink, name)

	return nil
}

func (l *ProcessLauncher) supervise(c *exec.Cmd, stdout, stderr *logsink.LineWriter, sink *logsink.Sink, name string) {
	defer l.wg.Done()

	waitErr := c.Wait()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		log.Warn().Int("pid", c.Process.Pid).Msg("launcher: output still open after exit, pipes closed")
	}

	// Flush trailing partial lines before the terminal record.
	for _, w := range []*logsink.LineWriter{stdout, stderr} {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Int("pid", c.Process.Pid).Msg("launcher: flush output")
		}
	}

	rec := processRecord(name, c.ProcessState, waitErr)
	sink.Append(rec)

	log.Info().
		Int("pid", c.Process.Pid).
		Int("exit_code", c.ProcessState.ExitCode()).
		Str("kind", string(rec.Kind)).
		Msg("launcher: worker exited")
}

// Wait blocks until every accepted worker has exited and its terminal record
// has been appended.
func (l *ProcessLauncher) Wait() {
	l.wg.Wait()
}

// Shutdown signals all running workers and waits for their supervisors,
// giving up when ctx ends.
func (l *ProcessLauncher) Shutdown(ctx context.Context) error {
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("launcher.ProcessLauncher.Shutdown: %w", ctx.Err())
	}
}
