// Package stream delivers a session's log records to observers, replaying the
// backlog first and then following new records until the session ends.
package stream

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/taskrelay/internal/domain"
	"github.com/gosuda/taskrelay/internal/session"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxDuration  = session.DefaultMaxLifetime
)

// Source reads a session's records past a cursor.
type Source interface {
	ReadFrom(id uuid.UUID, cursor int) (session.Batch, error)
}

// TerminalObserver is told when a subscriber has received a session's terminal record.
type TerminalObserver interface {
	TerminalObserved(id uuid.UUID)
}

// Options tunes subscription behavior. Zero values use the defaults.
type Options struct {
	PollInterval time.Duration
	MaxDuration  time.Duration
}

// Publisher hands out independent, ordered subscriptions to session logs.
type Publisher struct {
	source   Source
	observer TerminalObserver
	poll     time.Duration
	maxDur   time.Duration
}

func NewPublisher(source Source, observer TerminalObserver, opts Options) *Publisher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	return &Publisher{
		source:   source,
		observer: observer,
		poll:     opts.PollInterval,
		maxDur:   opts.MaxDuration,
	}
}

// Subscribe returns the records of session id, oldest first. Unknown sessions
// fail immediately with an error matching domain.ErrNotFound.
//
// The sequence ends after the terminal record, when ctx is done, when the
// session is destroyed, or once the maximum stream duration has elapsed.
func (p *Publisher) Subscribe(ctx context.Context, id uuid.UUID) (iter.Seq[domain.LogRecord], error) {
	if _, err := p.source.ReadFrom(id, 0); err != nil {
		return nil, fmt.Errorf("stream.Publisher.Subscribe: %w", err)
	}

	return func(yield func(domain.LogRecord) bool) {
		ctx, cancel := context.WithTimeout(ctx, p.maxDur)
		defer cancel()

		ticker := time.NewTicker(p.poll)
		defer ticker.Stop()

		cursor := 0
		for {
			batch, err := p.source.ReadFrom(id, cursor)
			if err != nil {
				return
			}

			for _, rec := range batch.Records {
				more := yield(rec)
				if rec.Terminal() {
					if p.observer != nil {
						p.observer.TerminalObserved(id)
					}
					return
				}
				if !more {
					return
				}
			}
			cursor = batch.Next

			select {
			case <-ctx.Done():
				return
			case <-batch.Changed:
			case <-ticker.C:
			}
		}
	}, nil
}
