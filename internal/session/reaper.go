package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/domain"
)

const (
	DefaultMaxLifetime = 5 * time.Minute
	DefaultGrace       = 30 * time.Second
)

// AbandonHook is called when a session is discarded before any terminal record.
type AbandonHook func(info domain.SessionInfo)

type reaperTimers struct {
	lifetime *time.Timer
	grace    *time.Timer
}

// Reaper guarantees every tracked session is eventually destroyed: after a
// grace period once a terminal record was delivered, or unconditionally after
// the maximum lifetime, whichever fires first.
type Reaper struct {
	store       *Store
	maxLifetime time.Duration
	grace       time.Duration

	mu        sync.Mutex
	timers    map[uuid.UUID]*reaperTimers
	onAbandon []AbandonHook
	stopped   bool
}

func NewReaper(store *Store, maxLifetime, grace time.Duration) *Reaper {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Reaper{
		store:       store,
		maxLifetime: maxLifetime,
		grace:       grace,
		timers:      make(map[uuid.UUID]*reaperTimers),
	}
}

// MaxLifetime returns the absolute session age cap.
func (r *Reaper) MaxLifetime() time.Duration {
	return r.maxLifetime
}

// OnAbandon registers a hook for sessions reclaimed without a terminal record.
func (r *Reaper) OnAbandon(hook AbandonHook) {
	r.mu.Lock()
	r.onAbandon = append(r.onAbandon, hook)
	r.mu.Unlock()
}

// Track arms the lifetime timer for a freshly created session.
func (r *Reaper) Track(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	t := r.timersLocked(id)
	if t.lifetime == nil {
		t.lifetime = time.AfterFunc(r.maxLifetime, func() { r.reap(id, "lifetime") })
	}
}

// TerminalObserved arms the grace timer. Only the first call per session counts.
func (r *Reaper) TerminalObserved(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	t := r.timersLocked(id)
	if t.grace == nil {
		t.grace = time.AfterFunc(r.grace, func() { r.reap(id, "grace") })
	}
}

// Stop cancels all pending timers. Sessions stay in the store.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for id, t := range r.timers {
		t.stop()
		delete(r.timers, id)
	}
}

func (r *Reaper) timersLocked(id uuid.UUID) *reaperTimers {
	t, ok := r.timers[id]
	if !ok {
		t = &reaperTimers{}
		r.timers[id] = t
	}
	return t
}

func (r *Reaper) reap(id uuid.UUID, reason string) {
	r.mu.Lock()
	if t, ok := r.timers[id]; ok {
		t.stop()
		delete(r.timers, id)
	}
	hooks := r.onAbandon
	r.mu.Unlock()

	info, ok := r.store.Expire(id)
	if !ok {
		return
	}

	logger := log.With().Str("session_id", id.String()).Str("task_type", info.TaskType).Str("reason", reason).Logger()
	if info.State != domain.SessionAbandoned {
		logger.Debug().Str("state", string(info.State)).Msg("session.Reaper: session reclaimed")
		return
	}

	logger.Warn().Int("records", info.Records).Msg("session.Reaper: session abandoned without terminal record")
	for _, hook := range hooks {
		hook(info)
	}
}

func (t *reaperTimers) stop() {
	if t.lifetime != nil {
		t.lifetime.Stop()
	}
	if t.grace != nil {
		t.grace.Stop()
	}
}
