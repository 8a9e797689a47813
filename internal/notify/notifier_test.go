package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskrelay/internal/domain"
	"github.com/gosuda/taskrelay/internal/messenger"
	"github.com/gosuda/taskrelay/internal/notify"
)

// --- mocks ---

type sentOutcome struct {
	channelID string
	outcome   messenger.Outcome
}

type mockMessenger struct {
	platform string
	err      error

	mu   sync.Mutex
	sent []sentOutcome
}

type fakeSessions map[uuid.UUID]domain.SessionInfo

func (f fakeSessions) Info(id uuid.UUID) (domain.SessionInfo, error) {
	info, ok := f[id]
	if !ok {
		return domain.SessionInfo{}, domain.ErrNotFound
	}
	return info, nil
}

func (m *mockMessenger) SendOutcome(_ context.Context, channelID string, outcome messenger.Outcome) (messenger.MessageID, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentOutcome{channelID: channelID, outcome: outcome})
	return "ts", nil
}

func (m *mockMessenger) Platform() string { return m.platform }

func (m *mockMessenger) outcomes() []sentOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentOutcome(nil), m.sent...)
}

func newNotifier(msgs ...*mockMessenger) (*notify.Notifier, []notify.Target) {
	reg := notify.NewRegistry()
	var targets []notify.Target
	for _, m := range msgs {
		reg.Register(m)
		targets = append(targets, notify.Target{Platform: m.platform, ChannelID: "C-" + m.platform})
	}
	return notify.New(reg, nil, targets), targets
}

func TestNotifier_OnAppend(t *testing.T) {
	t.Parallel()

	t.Run("terminal record is delivered", func(t *testing.T) {
		t.Parallel()

		slack := &mockMessenger{platform: "slack"}
		n, _ := newNotifier(slack)
		id := uuid.New()

		rec := domain.NewRecord(domain.LevelSuccess, "Bulk matters automation completed successfully")
		rec.Kind = domain.KindComplete
		n.OnAppend(id, "bulk-matters", rec)
		n.Wait()

		sent := slack.outcomes()
		require.Len(t, sent, 1)
		assert.Equal(t, "C-slack", sent[0].channelID)
		assert.Equal(t, id, sent[0].outcome.SessionID)
		assert.Equal(t, "bulk-matters", sent[0].outcome.TaskType)
		assert.Equal(t, "succeeded", sent[0].outcome.State)
		assert.Equal(t, rec.Message, sent[0].outcome.Message)
	})

	t.Run("non terminal record is ignored", func(t *testing.T) {
		t.Parallel()

		slack := &mockMessenger{platform: "slack"}
		n, _ := newNotifier(slack)

		n.OnAppend(uuid.New(), "bulk-matters", domain.NewRecord(domain.LevelError, "oops"))
		n.Wait()

		assert.Empty(t, slack.outcomes())
	})

	t.Run("no targets is a no-op", func(t *testing.T) {
		t.Parallel()

		n := notify.New(notify.NewRegistry(), nil, nil)
		rec := domain.NewRecord(domain.LevelError, "x")
		rec.Kind = domain.KindError
		n.OnAppend(uuid.New(), "t", rec)
		n.Wait()
	})
}

func TestNotifier_TerminalDuration(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	finished := created.Add(42 * time.Second)
	known, active := uuid.New(), uuid.New()
	sessions := fakeSessions{
		known:  {ID: known, CreatedAt: created, TerminalAt: &finished},
		active: {ID: active, CreatedAt: created},
	}

	tests := []struct {
		name     string
		sessions notify.SessionLookup
		id       uuid.UUID
		want     time.Duration
	}{
		{name: "creation to terminal", sessions: sessions, id: known, want: 42 * time.Second},
		{name: "session already gone", sessions: sessions, id: uuid.New()},
		{name: "no terminal time", sessions: sessions, id: active},
		{name: "no lookup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			slack := &mockMessenger{platform: "slack"}
			reg := notify.NewRegistry()
			reg.Register(slack)
			n := notify.New(reg, tt.sessions, []notify.Target{{Platform: "slack", ChannelID: "C1"}})

			rec := domain.NewRecord(domain.LevelSuccess, "done")
			rec.Kind = domain.KindComplete
			n.OnAppend(tt.id, "bulk-matters", rec)
			n.Wait()

			sent := slack.outcomes()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.want, sent[0].outcome.Duration)
		})
	}
}

func TestNotifier_OnAbandon(t *testing.T) {
	t.Parallel()

	slack := &mockMessenger{platform: "slack"}
	n, _ := newNotifier(slack)

	n.OnAbandon(domain.SessionInfo{
		ID:        uuid.New(),
		TaskType:  "test-browser",
		State:     domain.SessionAbandoned,
		CreatedAt: time.Now().Add(-5 * time.Minute),
	})
	n.Wait()

	sent := slack.outcomes()
	require.Len(t, sent, 1)
	assert.Equal(t, "abandoned", sent[0].outcome.State)
	assert.GreaterOrEqual(t, sent[0].outcome.Duration, 5*time.Minute)
}

func TestNotifier_Notify(t *testing.T) {
	t.Parallel()

	t.Run("reports every failing target", func(t *testing.T) {
		t.Parallel()

		good := &mockMessenger{platform: "slack"}
		bad := &mockMessenger{platform: "other", err: errors.New("rate_limited")}
		n, _ := newNotifier(good, bad)

		err := n.Notify(context.Background(), messenger.Outcome{TaskType: "t", State: "failed"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate_limited")
		assert.Len(t, good.outcomes(), 1)
	})

	t.Run("unregistered platform", func(t *testing.T) {
		t.Parallel()

		n := notify.New(notify.NewRegistry(), nil, []notify.Target{{Platform: "discord", ChannelID: "x"}})

		err := n.Notify(context.Background(), messenger.Outcome{})
		require.ErrorIs(t, err, notify.ErrPlatformNotFound)
	})
}
