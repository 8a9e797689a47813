// Package automation turns trigger requests into sessions with a running worker.
package automation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/domain"
	"github.com/gosuda/taskrelay/internal/launcher"
)

// SessionStore is the subset of session.Store the orchestrator needs.
type SessionStore interface {
	Create(taskType string) (uuid.UUID, error)
	Append(id uuid.UUID, rec domain.LogRecord) bool
	Info(id uuid.UUID) (domain.SessionInfo, error)
}

// LifetimeTracker arms the lifetime cap of a new session.
type LifetimeTracker interface {
	Track(id uuid.UUID)
}

// Config controls how worker commands are built.
type Config struct {
	Interpreter string // e.g. "python3" or a venv interpreter path
	ScriptDir   string
	WorkDir     string
	Credentials Credentials
}

// Orchestrator validates triggers, creates sessions and hands workers to a launcher.
type Orchestrator struct {
	registry *Registry
	store    SessionStore
	reaper   LifetimeTracker
	launcher launcher.Launcher
	cfg      Config
}

func NewOrchestrator(registry *Registry, store SessionStore, reaper LifetimeTracker, l launcher.Launcher, cfg Config) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		store:    store,
		reaper:   reaper,
		launcher: l,
		cfg:      cfg,
	}
}

// Trigger starts taskType with params and returns the new session id.
// Errors are only returned before a session exists; anything that goes wrong
// afterwards is reported through the session log.
func (o *Orchestrator) Trigger(ctx context.Context, taskType string, params Params) (uuid.UUID, error) {
	def, err := o.registry.Lookup(taskType)
	if err != nil {
		return uuid.Nil, fmt.Errorf("automation.Orchestrator.Trigger: %w", err)
	}

	args, err := def.Args(params, o.cfg.Credentials)
	if err != nil {
		return uuid.Nil, fmt.Errorf("automation.Orchestrator.Trigger(%q): %w", taskType, err)
	}

	id, err := o.store.Create(def.Name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("automation.Orchestrator.Trigger: create session: %w", err)
	}

	if def.Intro != nil {
		for _, msg := range def.Intro(params) {
			o.store.Append(id, domain.NewRecord(domain.LevelInfo, msg))
		}
	}

	o.reaper.Track(id)

	cmd := launcher.Command{
		Executable: o.cfg.Interpreter,
		Args:       append([]string{filepath.Join(o.cfg.ScriptDir, def.Script)}, args...),
		Dir:        o.cfg.WorkDir,
		Env:        []string{"PYTHONUNBUFFERED=1"},
		Label:      def.Label,
	}

	logger := log.With().Str("session_id", id.String()).Str("task_type", def.Name).Logger()

	if err := o.launcher.Launch(ctx, id, cmd); err != nil {
		logger.Error().Err(err).Msg("automation: launch rejected")
		rec := domain.NewRecord(domain.LevelError, fmt.Sprintf("Failed to start %s: %v", def.Label, err))
		rec.Kind = domain.KindError
		o.store.Append(id, rec)
		return id, nil
	}

	logger.Info().Msg("automation: session started")
	return id, nil
}

// Session returns a snapshot of session id.
func (o *Orchestrator) Session(id uuid.UUID) (domain.SessionInfo, error) {
	info, err := o.store.Info(id)
	if err != nil {
		return domain.SessionInfo{}, fmt.Errorf("automation.Orchestrator.Session: %w", err)
	}
	return info, nil
}

// Available lists the registered task types.
func (o *Orchestrator) Available() []TaskDefinition {
	return o.registry.Available()
}
