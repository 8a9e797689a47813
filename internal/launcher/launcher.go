// Package launcher starts worker processes for a session and folds their
// output and exit status into the session's log.
package launcher

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/google/uuid"

	"github.com/gosuda/taskrelay/internal/domain"
)

// ErrSessionNotFound is returned when a launch targets an unknown session.
var ErrSessionNotFound = fmt.Errorf("launcher: session %w", domain.ErrNotFound) //nolint:gochecknoglobals // sentinel error

// Command describes one worker invocation.
type Command struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string // KEY=VALUE pairs appended to the inherited environment
	Label      string   // human name used in terminal messages
}

// Launcher starts a worker bound to a session. A nil error means the request
// was accepted; spawn failures and exit status arrive as log records.
type Launcher interface {
	Launch(ctx context.Context, sessionID uuid.UUID, cmd Command) error
}

// SessionStore is the subset of session.Store a launcher writes to.
type SessionStore interface {
	Exists(id uuid.UUID) bool
	Append(id uuid.UUID, rec domain.LogRecord) bool
}

func label(cmd Command) string {
	if cmd.Label != "" {
		return cmd.Label
	}
	return "Automation"
}

func completedRecord(name string) domain.LogRecord {
	rec := domain.NewRecord(domain.LevelSuccess, name+" completed successfully")
	rec.Kind = domain.KindComplete
	return rec
}

func failedRecord(msg string) domain.LogRecord {
	rec := domain.NewRecord(domain.LevelError, msg)
	rec.Kind = domain.KindError
	return rec
}

func exitCodeRecord(name string, code int64) domain.LogRecord {
	if code == 0 {
		return completedRecord(name)
	}
	return failedRecord(fmt.Sprintf("%s failed with exit code %d", name, code))
}

func spawnFailedRecord(name string, err error) domain.LogRecord {
	return failedRecord(fmt.Sprintf("Failed to start %s: %v", name, err))
}

// processRecord maps a finished os/exec process to its terminal record.
func processRecord(name string, state *os.ProcessState, waitErr error) domain.LogRecord {
	if state == nil {
		return failedRecord(fmt.Sprintf("%s failed: %v", name, waitErr))
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return failedRecord(fmt.Sprintf("%s terminated by signal %d (%s)", name, int(sig), sig))
	}
	return exitCodeRecord(name, int64(state.ExitCode()))
}
