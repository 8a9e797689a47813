package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/taskrelay/internal/domain"
)

// DefaultKeepAlive is the interval between SSE comment frames on an idle stream.
const DefaultKeepAlive = 15 * time.Second

// SSEHandler serves GET ?sessionId=<id> as a text/event-stream of log records.
type SSEHandler struct {
	pub       *Publisher
	keepAlive time.Duration
}

func NewSSEHandler(pub *Publisher, keepAlive time.Duration) *SSEHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &SSEHandler{pub: pub, keepAlive: keepAlive}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("sessionId")
	if raw == "" {
		writeProblem(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "sessionId is not a valid session id")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())

	seq, err := h.pub.Subscribe(ctx, id)
	if err != nil {
		cancel()
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "session not found")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	// Records are pulled on their own goroutine so keep-alives can be written
	// while the subscription waits for the worker.
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	records := make(chan domain.LogRecord)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(records)
		for rec := range seq {
			select {
			case records <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	rc := http.NewResponseController(w)
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	logger := log.With().Str("session_id", id.String()).Logger()
	sent := 0

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				logger.Debug().Int("records", sent).Msg("stream: sse closed")
				return
			}
			if err := writeEvent(w, rec); err != nil {
				logger.Debug().Err(err).Msg("stream: sse write failed")
				return
			}
			sent++
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rec domain.LogRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("stream.writeEvent: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("stream.writeEvent: %w", err)
	}
	return nil
}

// writeProblem renders the same error body huma uses for API operations.
func writeProblem(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(huma.NewError(status, msg))
}
