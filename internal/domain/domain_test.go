package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskrelay/internal/domain"
)

// ---------------------------------------------------------------------------
// 1. Level / Kind predicates.
// ---------------------------------------------------------------------------

func TestLevel_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level domain.Level
		want  bool
	}{
		{domain.LevelInfo, true},
		{domain.LevelSuccess, true},
		{domain.LevelWarning, true},
		{domain.LevelError, true},
		{"debug", false},
		{"", false},
		{"INFO", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.level.Valid())
		})
	}
}

func TestKind_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.KindNone.Terminal())
	assert.True(t, domain.KindComplete.Terminal())
	assert.True(t, domain.KindError.Terminal())
	assert.False(t, domain.Kind("done").Terminal())
}

// ---------------------------------------------------------------------------
// 2. Session state mapping.
// ---------------------------------------------------------------------------

func TestStateForKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.SessionSucceeded, domain.StateForKind(domain.KindComplete))
	assert.Equal(t, domain.SessionFailed, domain.StateForKind(domain.KindError))
	assert.Equal(t, domain.SessionActive, domain.StateForKind(domain.KindNone))
}

func TestSessionState_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.SessionActive.Terminal())
	assert.True(t, domain.SessionSucceeded.Terminal())
	assert.True(t, domain.SessionFailed.Terminal())
	assert.True(t, domain.SessionAbandoned.Terminal())
}

// ---------------------------------------------------------------------------
// 3. Wire format.
// ---------------------------------------------------------------------------

func TestLogRecord_JSONOmitsEmptyKind(t *testing.T) {
	t.Parallel()

	rec := domain.LogRecord{
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:     domain.LevelInfo,
		Message:   "step 1",
	}

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"2025-01-02T03:04:05Z","level":"info","message":"step 1"}`, string(raw))

	rec.Kind = domain.KindComplete
	raw, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kind":"complete"`)
}

func TestNewRecord(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	rec := domain.NewRecord(domain.LevelWarning, "careful")

	assert.Equal(t, domain.LevelWarning, rec.Level)
	assert.Equal(t, "careful", rec.Message)
	assert.False(t, rec.Terminal())
	assert.False(t, rec.Timestamp.Before(before))
}
