package notify

import (
	"slices"
	"sync"

	"github.com/gosuda/taskrelay/internal/messenger"
)

// Registry holds one Messenger per chat platform.
type Registry struct {
	mu         sync.RWMutex
	messengers map[string]messenger.Messenger
}

func NewRegistry() *Registry {
	return &Registry{
		messengers: make(map[string]messenger.Messenger),
	}
}

// Register adds m under its own platform name, replacing any previous one.
func (r *Registry) Register(m messenger.Messenger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messengers[m.Platform()] = m
}

// Get returns the messenger for platform, or false if none is registered.
func (r *Registry) Get(platform string) (messenger.Messenger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messengers[platform]
	return m, ok
}

// Platforms returns the registered platform names in sorted order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.messengers))
	for name := range r.messengers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
