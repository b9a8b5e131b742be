package platform

import (
	"context"
	"sync"
)

// MemoryStorage keeps documents in process memory. It is used when no database
// is configured and in tests.
type MemoryStorage struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{docs: make(map[string][]byte)}
}

// Persist stores a copy of value under key.
func (m *MemoryStorage) Persist(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), value...)
	return nil
}

// Read returns a copy of the document stored under key.
func (m *MemoryStorage) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}
