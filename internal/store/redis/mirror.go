package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/domain"
)

const defaultPublishTimeout = 5 * time.Second

// Publisher abstracts the Redis publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RecordEvent is published on SessionChannel for every stored record.
type RecordEvent struct {
	SessionID uuid.UUID        `json:"session_id"`
	TaskType  string           `json:"task_type"`
	Record    domain.LogRecord `json:"record"`
}

// LifecycleEvent is published on EventsChannel when a session ends.
type LifecycleEvent struct {
	SessionID uuid.UUID           `json:"session_id"`
	TaskType  string              `json:"task_type"`
	State     domain.SessionState `json:"state"`
	Message   string              `json:"message,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Mirror copies session activity to Redis so observers on other replicas can follow it.
type Mirror struct {
	pub      Publisher
	timeout  time.Duration
	failures atomic.Int64
}

func NewMirror(pub Publisher, timeout time.Duration) *Mirror {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Mirror{pub: pub, timeout: timeout}
}

// OnAppend is a session.AppendHook. Publishing is synchronous so the channel
// sees records in store order.
func (m *Mirror) OnAppend(id uuid.UUID, taskType string, rec domain.LogRecord) {
	m.publish(SessionChannel(id), RecordEvent{SessionID: id, TaskType: taskType, Record: rec})

	if rec.Terminal() {
		m.publish(EventsChannel(), LifecycleEvent{
			SessionID: id,
			TaskType:  taskType,
			State:     domain.StateForKind(rec.Kind),
			Message:   rec.Message,
			Timestamp: rec.Timestamp,
		})
	}
}

// OnAbandon is a session.AbandonHook.
func (m *Mirror) OnAbandon(info domain.SessionInfo) {
	m.publish(EventsChannel(), LifecycleEvent{
		SessionID: info.ID,
		TaskType:  info.TaskType,
		State:     info.State,
		Timestamp: time.Now().UTC(),
	})
}

// Failures returns how many publishes have failed.
func (m *Mirror) Failures() int64 {
	return m.failures.Load()
}

func (m *Mirror) publish(channel string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.fail(channel, fmt.Errorf("redis.Mirror.publish: marshal: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.pub.Publish(ctx, channel, payload); err != nil {
		m.fail(channel, err)
	}
}

func (m *Mirror) fail(channel string, err error) {
	// Logged on the first failure and every hundredth after.
	if n := m.failures.Add(1); n == 1 || n%100 == 0 {
		log.Warn().Err(err).Str("channel", channel).Int64("failures", n).Msg("redis: mirror publish failed")
	}
}
