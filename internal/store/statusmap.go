package store

import (
	"sync"

	"github.com/boringprotocol/boring-bird/internal/model"
)

// StatusMap is an in-memory record id -> last observed status map.
type StatusMap struct {
	mu    sync.Mutex
	items map[string]string
}

func NewStatusMap() *StatusMap {
	return &StatusMap{items: make(map[string]string)}
}

// Seed records the status of every record, overwriting existing entries.
func (m *StatusMap) Seed(records []model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.items[r.ID] = r.Status
	}
}

// Swap stores status for id and returns the previously stored status.
// For an id not seen before the previous status is status itself, and seen
// is false. The read and the write happen under one lock.
func (m *StatusMap) Swap(id, status string) (prev string, seen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, seen = m.items[id]
	if !seen {
		prev = status
	}
	m.items[id] = status
	return prev, seen
}

func (m *StatusMap) Get(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	return s, ok
}

func (m *StatusMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Snapshot returns a copy of the current entries.
func (m *StatusMap) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.items))
	for k, v := range m.items {
		out[k] = v
	}
	return out
}
