// Package connectivity tracks reported network status and fans out
// transitions to subscribers.
package connectivity

import (
	"log/slog"
	"sync"
)

// Monitor exposes a single boolean network status. It is updated on transition
// only, never polled, and applies no debouncing: a flapping connection produces
// flapping status, and per-call failure handling downstream absorbs transients.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

// NewMonitor creates a monitor with the given initial status.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

// Online returns the current status synchronously.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a status report. Subscribers are notified only when the
// value actually transitions.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	// Snapshot subscribers so callbacks run without the lock held.
	callbacks := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	slog.Info("Connectivity transition", "online", online)
	for _, fn := range callbacks {
		fn(online)
	}
}

// Subscribe registers a transition callback and returns an unsubscribe handle.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
