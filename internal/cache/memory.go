package cache

import (
	"context"
	"sync"
)

// MemoryStore is a non-durable Store for one-shot runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	latest  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Load(_ context.Context, hash string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Hash] = e.clone()
	return nil
}

func (m *MemoryStore) Clear(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]*Entry)
	m.latest = ""
	return n, nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryStore) SaveLatest(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = hash
	return nil
}

func (m *MemoryStore) LoadLatest(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == "" {
		return "", ErrNotFound
	}
	return m.latest, nil
}

func (m *MemoryStore) Close() error { return nil }
