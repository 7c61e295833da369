// Package localstore provides the per-profile key/value storage that stands
// in for browser local storage.
package localstore

import "sync"

// Storage is synchronous; a write has completed when SetItem returns.
type Storage interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) GetItem(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *Memory) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
