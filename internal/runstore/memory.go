// Package runstore checkpoints run state so interrupted runs can be resumed
// by ID, across calls or across processes.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/agentrun/internal/agent"
)

var errStateRequired = errors.New("run state with an ID is required")

// MemoryStore keeps serialized checkpoints in memory. States are stored as
// JSON so Load never hands out a value shared with the caller of Save.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string][]byte{}}
}

func (m *MemoryStore) Save(ctx context.Context, state *agent.RunState) error {
	if state == nil || state.ID == "" {
		return errStateRequired
	}
	data, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", state.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.ID] = data
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, runID string) (*agent.RunState, error) {
	m.mu.RLock()
	data, ok := m.states[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrRunNotFound, runID)
	}
	state, err := agent.UnmarshalRunState(data)
	if err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return state, nil
}

func (m *MemoryStore) Delete(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[runID]; !ok {
		return fmt.Errorf("%w: %s", agent.ErrRunNotFound, runID)
	}
	delete(m.states, runID)
	return nil
}

// List returns every checkpoint, most recently updated first.
func (m *MemoryStore) List(ctx context.Context) ([]*agent.RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*agent.RunState, 0, len(m.states))
	for id, data := range m.states {
		state, err := agent.UnmarshalRunState(data)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
