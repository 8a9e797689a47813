package messenger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageID uniquely identifies a message within a messenger platform.
type MessageID string

// Outcome summarizes how a session ended.
type Outcome struct {
	SessionID uuid.UUID
	TaskType  string
	State     string // succeeded | failed | abandoned
	Message   string // the terminal record, if any
	Duration  time.Duration
}

// Messenger posts to a chat platform.
type Messenger interface {
	// SendOutcome posts a formatted session outcome to a channel.
	SendOutcome(ctx context.Context, channelID string, outcome Outcome) (MessageID, error)

	// Platform returns the messenger platform identifier (e.g. "slack").
	Platform() string
}
