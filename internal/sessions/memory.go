package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// maxTurnsPerConversation limits turns kept per conversation to prevent
// unbounded memory growth. Oldest turns are trimmed first.
const maxTurnsPerConversation = 1000

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]models.Turn
}

// NewMemoryStore creates a new in-memory turn store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: map[string][]models.Turn{}}
}

func (m *MemoryStore) AppendTurn(ctx context.Context, conversationID string, turn models.Turn) error {
	if conversationID == "" {
		return ErrConversationRequired
	}
	if turn.Role == "" {
		return errors.New("turn role is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := append(m.turns[conversationID], turn)
	if len(turns) > maxTurnsPerConversation {
		turns = append([]models.Turn(nil), turns[len(turns)-maxTurnsPerConversation:]...)
	}
	m.turns[conversationID] = turns
	return nil
}

func (m *MemoryStore) GetRecentTurns(ctx context.Context, conversationID string, limit int) ([]models.Turn, error) {
	return m.collect(conversationID, limit, func(models.Turn) bool { return true })
}

func (m *MemoryStore) Search(ctx context.Context, conversationID, query string, limit int) ([]models.Turn, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, errors.New("query is required")
	}
	return m.collect(conversationID, limit, func(t models.Turn) bool {
		return strings.Contains(strings.ToLower(t.Content), needle)
	})
}

// collect walks the conversation newest first.
func (m *MemoryStore) collect(conversationID string, limit int, match func(models.Turn) bool) ([]models.Turn, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}
	if limit <= 0 {
		return []models.Turn{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[conversationID]
	out := make([]models.Turn, 0, min(limit, len(turns)))
	for i := len(turns) - 1; i >= 0 && len(out) < limit; i-- {
		if match(turns[i]) {
			out = append(out, turns[i])
		}
	}
	return out, nil
}
