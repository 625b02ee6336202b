package cache

import (
	"context"
	"sync"
)

// Memory keeps entries for the life of the process.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Get returns the entry stored under key.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Properties: copyProperties(e.Properties), FetchedAt: e.FetchedAt}, true, nil
}

// Put stores entry under key, replacing any previous one.
func (m *Memory) Put(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry{Properties: copyProperties(entry.Properties), FetchedAt: entry.FetchedAt}
	return nil
}

// Name returns BackendMemory.
func (m *Memory) Name() string { return BackendMemory }

func copyProperties(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
