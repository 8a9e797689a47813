package ws

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/domain"
	redisstore "github.com/gosuda/taskrelay/internal/store/redis"
)

// Subscriber returns a session's records, replay first, until it ends.
type Subscriber interface {
	Subscribe(ctx context.Context, id uuid.UUID) (iter.Seq[domain.LogRecord], error)
}

// ChannelSubscriber abstracts Redis pub/sub subscription.
type ChannelSubscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub serves session logs over WebSocket.
type Hub struct {
	streams Subscriber
	relay   ChannelSubscriber
}

// NewHub creates a hub. relay may be nil when Redis is not configured.
func NewHub(streams Subscriber, relay ChannelSubscriber) *Hub {
	return &Hub{streams: streams, relay: relay}
}

// HasRelay reports whether the Redis relay endpoint can be served.
func (h *Hub) HasRelay() bool {
	return h.relay != nil
}

// ServeSession streams one session's records, one JSON text message each,
// and closes normally after the terminal record.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	records, err := h.streams.Subscribe(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx = conn.CloseRead(ctx)

	for rec := range records {
		msg, marshalErr := json.Marshal(rec)
		if marshalErr != nil {
			log.Error().Err(marshalErr).Msg("websocket marshal")
			_ = conn.Close(websocket.StatusInternalError, "encode failed")
			return
		}
		if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
			log.Debug().Err(writeErr).Msg("websocket write")
			return
		}
	}

	_ = conn.Close(websocket.StatusNormalClosure, "stream ended")
}

// ServeRelay tails the Redis mirror channel of a session. It carries only
// records published after the connection opened.
func (h *Hub) ServeRelay(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil {
		http.Error(w, "relay not configured", http.StatusServiceUnavailable)
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := h.relay.Subscribe(ctx, redisstore.SessionChannel(sessionID))
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
			if isTerminal(msg) {
				_ = conn.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
		}
	}
}

func isTerminal(payload []byte) bool {
	var ev redisstore.RecordEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return false
	}
	return ev.Record.Terminal()
}
