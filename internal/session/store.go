package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/taskrelay/internal/domain"
)

// ErrSessionNotFound is returned when a session does not exist or was already destroyed.
var ErrSessionNotFound = fmt.Errorf("session: %w", domain.ErrNotFound) //nolint:gochecknoglobals // sentinel error

// AppendHook observes every stored record. Hooks for one session run in the
// order the records were stored, outside the session lock.
type AppendHook func(id uuid.UUID, taskType string, rec domain.LogRecord)

// Batch is the result of ReadFrom: the records past a cursor and the channel
// that is closed on the next append or when the session is destroyed.
type Batch struct {
	Records []domain.LogRecord
	Next    int
	State   domain.SessionState
	Changed <-chan struct{}
}

type entry struct {
	mu         sync.Mutex
	taskType   string
	createdAt  time.Time
	terminalAt *time.Time
	state      domain.SessionState
	records    []domain.LogRecord
	wake       chan struct{}
	closed     bool

	// emitMu serializes appends with their hooks. Always taken before mu.
	emitMu sync.Mutex
}

// Store is the process-wide registry of sessions and their log buffers.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry

	hooksMu sync.RWMutex
	hooks   []AppendHook

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnAppend registers a hook called after each stored record.
func (s *Store) OnAppend(hook AppendHook) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, hook)
	s.hooksMu.Unlock()
}

// Create allocates a new, empty, active session.
func (s *Store) Create(taskType string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, fmt.Errorf("session.Store.Create: %w", err)
		}
		if _, taken := s.sessions[id]; taken {
			continue
		}

		s.sessions[id] = &entry{
			taskType:  taskType,
			createdAt: s.now(),
			state:     domain.SessionActive,
			wake:      make(chan struct{}),
		}
		return id, nil
	}
}

// Append adds rec to the tail of the session log. It reports false, without
// error, when the session no longer exists.
func (s *Store) Append(id uuid.UUID, rec domain.LogRecord) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}

	// emitMu spans the append and its hooks so hooks see store order, while
	// readers only wait on mu for the append itself.
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}

	if rec.Terminal() {
		if e.state.Terminal() {
			// Only the first terminal marker ends the sequence.
			rec.Kind = domain.KindNone
		} else {
			now := s.now()
			e.state = domain.StateForKind(rec.Kind)
			e.terminalAt = &now
		}
	}

	e.records = append(e.records, rec)
	close(e.wake)
	e.wake = make(chan struct{})
	taskType := e.taskType
	e.mu.Unlock()

	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(id, taskType, rec)
	}

	return true
}

// Read returns a snapshot of every record currently buffered for the session.
func (s *Store) Read(id uuid.UUID) ([]domain.LogRecord, error) {
	b, err := s.ReadFrom(id, 0)
	if err != nil {
		return nil, err
	}
	return b.Records, nil
}

// ReadFrom returns the records at positions >= cursor.
func (s *Store) ReadFrom(id uuid.UUID, cursor int) (Batch, error) {
	e := s.lookup(id)
	if e == nil {
		return Batch{}, fmt.Errorf("session.Store.ReadFrom(%s): %w", id, ErrSessionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Batch{}, fmt.Errorf("session.Store.ReadFrom(%s): %w", id, ErrSessionNotFound)
	}

	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(e.records) {
		cursor = len(e.records)
	}

	out := make([]domain.LogRecord, len(e.records)-cursor)
	copy(out, e.records[cursor:])

	return Batch{
		Records: out,
		Next:    len(e.records),
		State:   e.state,
		Changed: e.wake,
	}, nil
}

// Info returns a snapshot of the session's metadata.
func (s *Store) Info(id uuid.UUID) (domain.SessionInfo, error) {
	e := s.lookup(id)
	if e == nil {
		return domain.SessionInfo{}, fmt.Errorf("session.Store.Info(%s): %w", id, ErrSessionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.SessionInfo{}, fmt.Errorf("session.Store.Info(%s): %w", id, ErrSessionNotFound)
	}
	return e.infoLocked(id), nil
}

// Exists reports whether the session is registered.
func (s *Store) Exists(id uuid.UUID) bool {
	return s.lookup(id) != nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Destroy removes the session and releases its buffer. Safe to call more than once.
func (s *Store) Destroy(id uuid.UUID) {
	s.remove(id, false)
}

// Expire removes the session, marking it abandoned if no terminal record was
// ever stored. It returns the final view of the session.
func (s *Store) Expire(id uuid.UUID) (domain.SessionInfo, bool) {
	return s.remove(id, true)
}

func (s *Store) remove(id uuid.UUID, abandon bool) (domain.SessionInfo, bool) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return domain.SessionInfo{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if abandon && e.state == domain.SessionActive {
		e.state = domain.SessionAbandoned
	}
	info := e.infoLocked(id)

	e.closed = true
	e.records = nil
	close(e.wake)

	return info, true
}

func (s *Store) lookup(id uuid.UUID) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (e *entry) infoLocked(id uuid.UUID) domain.SessionInfo {
	return domain.SessionInfo{
		ID:         id,
		TaskType:   e.taskType,
		State:      e.state,
		Records:    len(e.records),
		CreatedAt:  e.createdAt,
		TerminalAt: e.terminalAt,
	}
}
