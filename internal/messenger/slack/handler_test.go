package slack_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskrelay/internal/automation"
	"github.com/gosuda/taskrelay/internal/domain"
	trslack "github.com/gosuda/taskrelay/internal/messenger/slack"
)

const testSigningSecret = "test-signing-secret-12345"

// --- mock Automations ---

type mockAutomations struct {
	triggered []string
	params    []automation.Params
	id        uuid.UUID
	err       error
	sessions  map[uuid.UUID]domain.SessionInfo
}

func (m *mockAutomations) Trigger(_ context.Context, taskType string, params automation.Params) (uuid.UUID, error) {
	m.triggered = append(m.triggered, taskType)
	m.params = append(m.params, params)
	return m.id, m.err
}

func (m *mockAutomations) Session(id uuid.UUID) (domain.SessionInfo, error) {
	info, ok := m.sessions[id]
	if !ok {
		return domain.SessionInfo{}, fmt.Errorf("mock: %w", domain.ErrNotFound)
	}
	return info, nil
}

func (m *mockAutomations) Available() []automation.TaskDefinition {
	return []automation.TaskDefinition{
		{Name: "bulk-matters", Description: "Walk the bulk matters page."},
		{Name: "test-browser", Description: "Open a test page."},
	}
}

// --- signature helpers ---

// computeSlackSignature computes a valid Slack request signature for the given body and timestamp.
func computeSlackSignature(secret, timestamp, body string) string {
	sigBase := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sigBase))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func commandRequest(secret, text string) *http.Request {
	form := url.Values{
		"command":    {"/taskrelay"},
		"text":       {text},
		"user_id":    {"U123"},
		"team_id":    {"T123"},
		"token":      {"legacy"},
		"trigger_id": {"x"},
	}
	body := form.Encode()

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", computeSlackSignature(secret, ts, body))
	return req
}

func replyText(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	require.Equal(t, http.StatusOK, rec.Code)
	var msg struct {
		ResponseType string `json:"response_type"`
		Text         string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "ephemeral", msg.ResponseType)
	return msg.Text
}

func TestHandler_InvalidSignature(t *testing.T) {
	t.Parallel()

	mock := &mockAutomations{}
	h := trslack.NewHandler(testSigningSecret, mock)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest("wrong-secret", "run test-browser ws://cdp"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, mock.triggered)
}

func TestHandler_Run(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	mock := &mockAutomations{id: id}
	h := trslack.NewHandler(testSigningSecret, mock)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest(testSigningSecret, "run bulk-matter-upload ws://cdp Smith LLP"))

	text := replyText(t, rec)
	assert.Contains(t, text, id.String())
	require.Equal(t, []string{"bulk-matter-upload"}, mock.triggered)
	assert.Equal(t, "ws://cdp", mock.params[0].CDPURL)
	assert.Equal(t, "Smith LLP", mock.params[0].SelectedFirm)
}

func TestHandler_RunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{
			name:     "validation",
			err:      &automation.ValidationError{Field: "selectedFirm", Message: "Selected firm is required."},
			wantText: "Selected firm is required.",
		},
		{
			name:     "unknown task",
			err:      fmt.Errorf("lookup: %w", automation.ErrUnknownTask),
			wantText: "Unknown automation `nope`",
		},
		{
			name:     "missing credential",
			err:      automation.ErrMissingCredential,
			wantText: "not available",
		},
		{
			name:     "internal",
			err:      fmt.Errorf("boom"),
			wantText: "Failed to start automation.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := trslack.NewHandler(testSigningSecret, &mockAutomations{err: tt.err})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, commandRequest(testSigningSecret, "run nope ws://cdp"))

			assert.Contains(t, replyText(t, rec), tt.wantText)
		})
	}
}

func TestHandler_Status(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	finished := created.Add(42 * time.Second)
	mock := &mockAutomations{sessions: map[uuid.UUID]domain.SessionInfo{
		id: {
			ID:         id,
			TaskType:   "test-browser",
			State:      domain.SessionSucceeded,
			Records:    3,
			CreatedAt:  created,
			TerminalAt: &finished,
		},
	}}
	h := trslack.NewHandler(testSigningSecret, mock)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest(testSigningSecret, "status "+id.String()))
	text := replyText(t, rec)
	assert.Contains(t, text, "is succeeded, 3 records")
	assert.Contains(t, text, "finished after 42s")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest(testSigningSecret, "status "+uuid.NewString()))
	assert.Contains(t, replyText(t, rec), "not found")
}

func TestHandler_ListAndHelp(t *testing.T) {
	t.Parallel()

	h := trslack.NewHandler(testSigningSecret, &mockAutomations{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest(testSigningSecret, "list"))
	text := replyText(t, rec)
	assert.Contains(t, text, "`bulk-matters`")
	assert.Contains(t, text, "`test-browser`")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, commandRequest(testSigningSecret, "dance"))
	assert.Contains(t, replyText(t, rec), "Unrecognized command")
}
