// Package logsink converts raw worker output into log records and appends
// them to the owning session.
package logsink

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/domain"
)

// Appender is the subset of session.Store the sink writes to.
type Appender interface {
	Append(id uuid.UUID, rec domain.LogRecord) bool
}

// Sink binds one session's output streams to its log buffer.
type Sink struct {
	sessionID uuid.UUID
	store     Appender
	now       func() time.Time
	dropped   atomic.Int64
}

func New(store Appender, sessionID uuid.UUID) *Sink {
	return &Sink{
		sessionID: sessionID,
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Stdout returns a writer that parses structured lines and falls back to info.
func (s *Sink) Stdout() *LineWriter {
	return NewLineWriter(func(line string) {
		s.Append(ParseStdout(line, s.now()))
	})
}

// Stderr returns a writer that records every line at error level.
func (s *Sink) Stderr() *LineWriter {
	return NewLineWriter(func(line string) {
		s.Append(ParseStderr(line, s.now()))
	})
}

// Append stores rec, counting records that arrive after the session is gone.
func (s *Sink) Append(rec domain.LogRecord) {
	if s.store.Append(s.sessionID, rec) {
		return
	}
	if s.dropped.Add(1) == 1 {
		log.Debug().Str("session_id", s.sessionID.String()).Msg("logsink: session gone, dropping worker output")
	}
}

// Dropped returns how many records were discarded because the session was destroyed.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}
