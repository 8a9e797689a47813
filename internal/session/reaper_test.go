package session_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskrelay/internal/domain"
	"github.com/gosuda/taskrelay/internal/session"
)

func TestReaper_LifetimeAbandonsActiveSession(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	reaper := session.NewReaper(store, 50*time.Millisecond, time.Hour)
	t.Cleanup(reaper.Stop)

	var mu sync.Mutex
	var abandoned []domain.SessionInfo
	reaper.OnAbandon(func(info domain.SessionInfo) {
		mu.Lock()
		abandoned = append(abandoned, info)
		mu.Unlock()
	})

	id, err := store.Create("bulk-matters")
	require.NoError(t, err)
	store.Append(id, domain.NewRecord(domain.LevelInfo, "started"))
	reaper.Track(id)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(abandoned) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, store.Exists(id))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, id, abandoned[0].ID)
	assert.Equal(t, domain.SessionAbandoned, abandoned[0].State)
	assert.Equal(t, 1, abandoned[0].Records)
}

func TestReaper_GraceAfterTerminal(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	reaper := session.NewReaper(store, time.Hour, 50*time.Millisecond)
	t.Cleanup(reaper.Stop)

	var abandonCalled atomic.Bool
	reaper.OnAbandon(func(domain.SessionInfo) { abandonCalled.Store(true) })

	id, err := store.Create("t")
	require.NoError(t, err)
	reaper.Track(id)

	done := domain.NewRecord(domain.LevelSuccess, "ok")
	done.Kind = domain.KindComplete
	store.Append(id, done)
	reaper.TerminalObserved(id)
	reaper.TerminalObserved(id) // only the first call arms the timer

	require.Eventually(t, func() bool { return !store.Exists(id) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, abandonCalled.Load())
}

func TestReaper_StopCancelsTimers(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	reaper := session.NewReaper(store, 30*time.Millisecond, 30*time.Millisecond)

	id, err := store.Create("t")
	require.NoError(t, err)
	reaper.Track(id)
	reaper.Stop()

	// Tracking after Stop is ignored.
	reaper.Track(id)

	time.Sleep(100 * time.Millisecond)
	assert.True(t, store.Exists(id))
}

func TestReaper_RaceWithAppend(t *testing.T) {
	t.Parallel()

	store := session.NewStore()
	reaper := session.NewReaper(store, 5*time.Millisecond, time.Hour)
	t.Cleanup(reaper.Stop)

	id, err := store.Create("t")
	require.NoError(t, err)
	reaper.Track(id)

	// Appends racing destruction must never panic; late appends are dropped.
	for range 1000 {
		store.Append(id, domain.NewRecord(domain.LevelInfo, "tick"))
	}

	require.Eventually(t, func() bool { return !store.Exists(id) }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, store.Append(id, domain.NewRecord(domain.LevelInfo, "late")))
}

func TestNewReaper_Defaults(t *testing.T) {
	t.Parallel()

	reaper := session.NewReaper(session.NewStore(), 0, 0)
	t.Cleanup(reaper.Stop)

	assert.Equal(t, session.DefaultMaxLifetime, reaper.MaxLifetime())
}
