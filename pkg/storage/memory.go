package storage

import (
	"fmt"
	"sync"
)

// MemoryStorage implements in-memory badge state storage
type MemoryStorage struct {
	states map[string]BadgeStateData
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		states: make(map[string]BadgeStateData),
	}
}

// Save stores a copy of the state in memory
func (m *MemoryStorage) Save(state *BadgeStateData) error {
	if state == nil || state.Key == "" {
		return fmt.Errorf("badge state key cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Key] = *state
	return nil
}

// Load retrieves a copy of the state for key
func (m *MemoryStorage) Load(key string) (*BadgeStateData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &state, nil
}

// Delete removes the state for key
func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, key)
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}
