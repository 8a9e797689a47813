package stream_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gosuda/taskrelay/internal/domain"
	"github.com/gosuda/taskrelay/internal/session"
	"github.com/gosuda/taskrelay/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type observerStub struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (o *observerStub) TerminalObserved(id uuid.UUID) {
	o.mu.Lock()
	o.ids = append(o.ids, id)
	o.mu.Unlock()
}

func (o *observerStub) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ids)
}

func info(msg string) domain.LogRecord {
	return domain.NewRecord(domain.LevelInfo, msg)
}

func done() domain.LogRecord {
	r := domain.NewRecord(domain.LevelSuccess, "done")
	r.Kind = domain.KindComplete
	return r
}

func collect(t *testing.T, pub *stream.Publisher, ctx context.Context, id uuid.UUID) []string {
	t.Helper()

	seq, err := pub.Subscribe(ctx, id)
	require.NoError(t, err)

	var out []string
	for rec := range seq {
		out = append(out, rec.Message)
	}
	return out
}

func newSession(t *testing.T, store *session.Store) uuid.UUID {
	t.Helper()
	id, err := store.Create("test")
	require.NoError(t, err)
	return id
}

func TestSubscribe_UnknownSession(t *testing.T) {
	t.Parallel()

	pub := stream.NewPublisher(session.NewStore(), nil, stream.Options{})

	seq, err := pub.Subscribe(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, seq)
}

func TestSubscribe_ReplayThenTerminal(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	obs := &observerStub{}
	pub := stream.NewPublisher(store, obs, stream.Options{})

	id := newSession(t, store)
	store.Append(id, info("a"))
	store.Append(id, info("b"))
	store.Append(id, done())
	store.Append(id, info("after terminal"))

	got := collect(t, pub, context.Background(), id)

	assert.Equal(t, []string{"a", "b", "done"}, got)
	assert.Equal(t, 1, obs.count())
}

func TestSubscribe_LiveFollow(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	pub := stream.NewPublisher(store, nil, stream.Options{PollInterval: time.Hour})
	id := newSession(t, store)

	go func() {
		for i := range 5 {
			store.Append(id, info(fmt.Sprintf("line %d", i)))
			time.Sleep(time.Millisecond)
		}
		store.Append(id, done())
	}()

	got := collect(t, pub, context.Background(), id)

	assert.Equal(t, []string{"line 0", "line 1", "line 2", "line 3", "line 4", "done"}, got)
}

func TestSubscribe_TwoSubscribersSeeSameSequence(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	pub := stream.NewPublisher(store, nil, stream.Options{PollInterval: 5 * time.Millisecond})
	id := newSession(t, store)
	store.Append(id, info("before"))

	var wg sync.WaitGroup
	results := make([][]string, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := pub.Subscribe(context.Background(), id)
			if err != nil {
				return
			}
			for rec := range seq {
				results[i] = append(results[i], rec.Message)
			}
		}()
	}

	for i := range 20 {
		store.Append(id, info(fmt.Sprintf("m%d", i)))
	}
	store.Append(id, done())
	wg.Wait()

	require.Len(t, results[0], 22)
	assert.Equal(t, results[0], results[1])
}

func TestSubscribe_LateSubscriberGetsFullHistory(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	pub := stream.NewPublisher(store, nil, stream.Options{})
	id := newSession(t, store)

	first := collectAsync(pub, id)
	store.Append(id, info("one"))
	store.Append(id, info("two"))
	store.Append(id, done())

	assert.Equal(t, []string{"one", "two", "done"}, <-first)
	assert.Equal(t, []string{"one", "two", "done"}, collect(t, pub, context.Background(), id))
}

func collectAsync(pub *stream.Publisher, id uuid.UUID) <-chan []string {
	out := make(chan []string, 1)
	seq, err := pub.Subscribe(context.Background(), id)
	if err != nil {
		close(out)
		return out
	}
	go func() {
		var msgs []string
		for rec := range seq {
			msgs = append(msgs, rec.Message)
		}
		out <- msgs
	}()
	return out
}

func TestSubscribe_ContextCancel(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	pub := stream.NewPublisher(store, nil, stream.Options{})
	id := newSession(t, store)
	store.Append(id, info("only"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Equal(t, []string{"only"}, collect(t, pub, ctx, id))
}

func TestSubscribe_MaxDuration(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	obs := &observerStub{}
	pub := stream.NewPublisher(store, obs, stream.Options{MaxDuration: 50 * time.Millisecond})
	id := newSession(t, store)

	start := time.Now()
	got := collect(t, pub, context.Background(), id)

	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, obs.count())
}

func TestSubscribe_SessionDestroyed(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	pub := stream.NewPublisher(store, nil, stream.Options{PollInterval: time.Hour})
	id := newSession(t, store)
	store.Append(id, info("x"))

	res := collectAsync(pub, id)
	time.Sleep(10 * time.Millisecond)
	store.Destroy(id)

	select {
	case got := <-res:
		assert.Equal(t, []string{"x"}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end after destroy")
	}
}

func TestSubscribe_EarlyBreak(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	pub := stream.NewPublisher(store, nil, stream.Options{})
	id := newSession(t, store)
	for i := range 10 {
		store.Append(id, info(fmt.Sprintf("m%d", i)))
	}

	seq, err := pub.Subscribe(context.Background(), id)
	require.NoError(t, err)

	var got []string
	for rec := range seq {
		got = append(got, rec.Message)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"m0", "m1", "m2"}, got)
}

func TestSubscribe_ArmsGraceOnTerminal(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	reaper := session.NewReaper(store, time.Minute, 20*time.Millisecond)
	defer reaper.Stop()
	pub := stream.NewPublisher(store, reaper, stream.Options{})

	id := newSession(t, store)
	reaper.Track(id)
	store.Append(id, done())

	assert.Equal(t, []string{"done"}, collect(t, pub, context.Background(), id))
	require.Eventually(t, func() bool { return !store.Exists(id) }, 5*time.Second, 5*time.Millisecond)
}
