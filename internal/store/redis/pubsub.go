package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PubSub publishes session records and lifecycle events to Redis channels
// and relays them back to WebSocket subscribers.
type PubSub struct {
	client *redis.Client
}

// New connects to addr and fails unless the server answers a ping.
func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

// NewFromClient wraps an existing client; the PubSub takes ownership of it.
func NewFromClient(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// Ping reports whether the server answers. It backs the readiness probe.
func (ps *PubSub) Ping(ctx context.Context) error {
	if err := ps.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Ping: %w", err)
	}
	return nil
}

// subscriberBuffer bounds payloads held for a slow reader before Redis
// itself starts buffering on the connection.
const subscriberBuffer = 64

// Subscribe delivers payloads published on channel until ctx ends or the
// returned cleanup func is called. The channel is closed in both cases.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for the subscription reply so nothing published after return is lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = sub.Close()
		})
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer stop()
		for {
			msg, err := sub.ReceiveMessage(subCtx)
			if err != nil {
				if subCtx.Err() == nil && !errors.Is(err, redis.ErrClosed) {
					log.Warn().Err(err).Str("channel", channel).Msg("redis: subscription ended")
				}
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-subCtx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// SessionChannel carries every record appended to one session.
func SessionChannel(sessionID uuid.UUID) string {
	return "taskrelay:session:" + sessionID.String()
}

// EventsChannel carries session lifecycle events for all sessions.
func EventsChannel() string {
	return "taskrelay:events"
}
