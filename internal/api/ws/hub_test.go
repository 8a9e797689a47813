package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskrelay/internal/api/ws"
	"github.com/gosuda/taskrelay/internal/domain"
	"github.com/gosuda/taskrelay/internal/session"
	redisstore "github.com/gosuda/taskrelay/internal/store/redis"
	"github.com/gosuda/taskrelay/internal/stream"
)

type fakeRelay struct {
	ch  chan []byte
	err error
}

func (f *fakeRelay) Subscribe(context.Context, string) (<-chan []byte, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.ch, func() {}, nil
}

func newHubServer(t *testing.T, store *session.Store, relay ws.ChannelSubscriber) *httptest.Server {
	t.Helper()

	pub := stream.NewPublisher(store, nil, stream.Options{PollInterval: 10 * time.Millisecond})
	hub := ws.NewHub(pub, relay)

	r := chi.NewRouter()
	r.Get("/ws/sessions/{sessionID}", hub.ServeSession)
	r.Get("/ws/relay/{sessionID}", hub.ServeRelay)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func terminalRecord() domain.LogRecord {
	rec := domain.NewRecord(domain.LevelSuccess, "Automation completed successfully")
	rec.Kind = domain.KindComplete
	return rec
}

func TestHub_ServeSession(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	srv := newHubServer(t, store, nil)

	id, err := store.Create("form-automation")
	require.NoError(t, err)
	store.Append(id, domain.NewRecord(domain.LevelInfo, "replayed"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/sessions/"+id.String()), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	store.Append(id, domain.NewRecord(domain.LevelInfo, "live"))
	store.Append(id, terminalRecord())

	var got []domain.LogRecord
	for {
		typ, data, readErr := conn.Read(ctx)
		if readErr != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(readErr))
			break
		}
		assert.Equal(t, websocket.MessageText, typ)
		var rec domain.LogRecord
		require.NoError(t, json.Unmarshal(data, &rec))
		got = append(got, rec)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "replayed", got[0].Message)
	assert.Equal(t, "live", got[1].Message)
	assert.True(t, got[2].Terminal())
}

func TestHub_ServeSession_Errors(t *testing.T) {
	t.Parallel()

	srv := newHubServer(t, session.NewStore(), nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "malformed id", path: "/ws/sessions/not-a-uuid", wantStatus: http.StatusBadRequest},
		{name: "unknown id", path: "/ws/sessions/" + uuid.NewString(), wantStatus: http.StatusNotFound},
		{name: "relay not configured", path: "/ws/relay/" + uuid.NewString(), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, err := http.Get(srv.URL + tt.path) //nolint:noctx // test request
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHub_ServeRelay(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{ch: make(chan []byte, 4)}
	srv := newHubServer(t, session.NewStore(), relay)
	id := uuid.New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/relay/"+id.String()), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	for _, rec := range []domain.LogRecord{domain.NewRecord(domain.LevelInfo, "from replica"), terminalRecord()} {
		payload, marshalErr := json.Marshal(redisstore.RecordEvent{SessionID: id, TaskType: "bulk-matters", Record: rec})
		require.NoError(t, marshalErr)
		relay.ch <- payload
	}

	var got []redisstore.RecordEvent
	for {
		_, data, readErr := conn.Read(ctx)
		if readErr != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(readErr))
			break
		}
		var ev redisstore.RecordEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "from replica", got[0].Record.Message)
	assert.True(t, got[1].Record.Terminal())
}

func TestHub_ServeRelay_SubscribeFailure(t *testing.T) {
	t.Parallel()

	srv := newHubServer(t, session.NewStore(), &fakeRelay{err: errors.New("redis down")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/ws/relay/"+uuid.NewString()), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(err))
}
