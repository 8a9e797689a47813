package domain

import "time"

// Level classifies a log record for display and filtering.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	default:
		return false
	}
}

// Kind marks the logical end of a session's output. The zero value means
// the record is not terminal.
type Kind string

const (
	KindNone     Kind = ""
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Terminal reports whether k ends the session's record sequence.
func (k Kind) Terminal() bool {
	return k == KindComplete || k == KindError
}

// LogRecord is one unit of worker progress or diagnostics.
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind,omitempty"`
}

// Terminal reports whether the record carries a terminal marker.
func (r LogRecord) Terminal() bool {
	return r.Kind.Terminal()
}

// NewRecord builds a non-terminal record stamped with the current time.
func NewRecord(level Level, message string) LogRecord {
	return LogRecord{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	}
}
