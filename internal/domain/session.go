package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a supervised task session.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionSucceeded SessionState = "succeeded"
	SessionFailed    SessionState = "failed"
	SessionAbandoned SessionState = "abandoned"
)

// Terminal reports whether no further state transition is expected.
func (s SessionState) Terminal() bool {
	return s != SessionActive
}

// StateForKind maps a terminal marker to the session state it produces.
func StateForKind(k Kind) SessionState {
	switch k {
	case KindComplete:
		return SessionSucceeded
	case KindError:
		return SessionFailed
	default:
		return SessionActive
	}
}

// SessionInfo is a point-in-time view of a session, without its records.
type SessionInfo struct {
	ID         uuid.UUID    `json:"id"`
	TaskType   string       `json:"task_type"`
	State      SessionState `json:"state"`
	Records    int          `json:"records"`
	CreatedAt  time.Time    `json:"created_at"`
	TerminalAt *time.Time   `json:"terminal_at,omitempty"`
}
