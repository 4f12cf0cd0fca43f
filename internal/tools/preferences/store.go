// Package preferences provides tools that read and write per-user preferences.
package preferences

import (
	"context"
	"errors"
	"sync"
)

// Store persists preferences per owner. The owner is the user ID, or the
// conversation ID for anonymous runs.
type Store interface {
	Get(ctx context.Context, owner string) (map[string]string, error)
	Set(ctx context.Context, owner, key, value string) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]map[string]string
}

// NewMemoryStore creates an empty preference store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: map[string]map[string]string{}}
}

// Get returns a copy of the owner's preferences.
func (m *MemoryStore) Get(_ context.Context, owner string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.prefs[owner]))
	for k, v := range m.prefs[owner] {
		out[k] = v
	}
	return out, nil
}

// Set stores one preference.
func (m *MemoryStore) Set(_ context.Context, owner, key, value string) error {
	if owner == "" || key == "" {
		return errors.New("owner and key are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs[owner] == nil {
		m.prefs[owner] = map[string]string{}
	}
	m.prefs[owner][key] = value
	return nil
}
