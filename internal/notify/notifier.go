package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/domain"
	"github.com/gosuda/taskrelay/internal/messenger"
)

// ErrPlatformNotFound is returned when a messenger platform is not registered.
var ErrPlatformNotFound = errors.New("notify: platform not found") //nolint:gochecknoglobals // sentinel error

const defaultSendTimeout = 10 * time.Second

// MessengerRegistry maps platform names to Messenger implementations.
type MessengerRegistry interface {
	Get(platform string) (messenger.Messenger, bool)
}

// SessionLookup reads session timing for terminal outcomes.
type SessionLookup interface {
	Info(id uuid.UUID) (domain.SessionInfo, error)
}

// Target is a channel on a messenger platform that receives session outcomes.
type Target struct {
	Platform  string
	ChannelID string
}

// Notifier posts session outcomes to the configured targets. Hooks return
// immediately; delivery happens in the background.
type Notifier struct {
	messengers MessengerRegistry
	sessions   SessionLookup
	targets    []Target
	timeout    time.Duration
	wg         sync.WaitGroup
}

// New returns a Notifier. sessions may be nil, in which case terminal
// outcomes carry no duration.
func New(messengers MessengerRegistry, sessions SessionLookup, targets []Target) *Notifier {
	return &Notifier{
		messengers: messengers,
		sessions:   sessions,
		targets:    targets,
		timeout:    defaultSendTimeout,
	}
}

// OnAppend is a session.AppendHook that reports terminal records.
func (n *Notifier) OnAppend(id uuid.UUID, taskType string, rec domain.LogRecord) {
	if !rec.Terminal() {
		return
	}
	n.dispatch(messenger.Outcome{
		SessionID: id,
		TaskType:  taskType,
		State:     string(domain.StateForKind(rec.Kind)),
		Message:   rec.Message,
		Duration:  n.runTime(id),
	})
}

// runTime is creation to terminal marker. The hook runs before the session
// can be destroyed, so a lookup failure only drops the duration.
func (n *Notifier) runTime(id uuid.UUID) time.Duration {
	if n.sessions == nil {
		return 0
	}
	info, err := n.sessions.Info(id)
	if err != nil || info.TerminalAt == nil {
		return 0
	}
	return info.TerminalAt.Sub(info.CreatedAt)
}

// OnAbandon is a session.AbandonHook.
func (n *Notifier) OnAbandon(info domain.SessionInfo) {
	n.dispatch(messenger.Outcome{
		SessionID: info.ID,
		TaskType:  info.TaskType,
		State:     string(info.State),
		Duration:  time.Since(info.CreatedAt),
	})
}

func (n *Notifier) dispatch(outcome messenger.Outcome) {
	if len(n.targets) == 0 {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.Notify(ctx, outcome); err != nil {
			log.Warn().Err(err).
				Str("session_id", outcome.SessionID.String()).
				Str("state", outcome.State).
				Msg("notify: outcome delivery failed")
		}
	}()
}

// Notify sends outcome to every target and reports all failures.
func (n *Notifier) Notify(ctx context.Context, outcome messenger.Outcome) error {
	var errs []error
	for _, target := range n.targets {
		if err := n.NotifyVia(ctx, target, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify.Notifier.Notify: %w", errors.Join(errs...))
	}
	return nil
}

// NotifyVia sends outcome to a single target.
func (n *Notifier) NotifyVia(ctx context.Context, target Target, outcome messenger.Outcome) error {
	msg, ok := n.messengers.Get(target.Platform)
	if !ok {
		return fmt.Errorf("notify.Notifier.NotifyVia: platform %q: %w", target.Platform, ErrPlatformNotFound)
	}

	if _, err := msg.SendOutcome(ctx, target.ChannelID, outcome); err != nil {
		return fmt.Errorf("notify.Notifier.NotifyVia: send: %w", err)
	}
	return nil
}

// Wait blocks until all background deliveries have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
