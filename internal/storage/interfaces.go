// Package storage opens the configured turn and run checkpoint stores.
package storage

import (
	"context"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/internal/sessions"
)

// RunStore is a checkpoint store that can also enumerate its runs.
type RunStore interface {
	agent.RunStore
	List(ctx context.Context) ([]*agent.RunState, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Turns  sessions.Store
	Runs   RunStore
	closer func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
