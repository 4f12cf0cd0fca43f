// Package sessions persists conversation turns for window building.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// ErrConversationRequired is returned when a conversation ID is empty.
var ErrConversationRequired = errors.New("conversation ID is required")

// Store is the interface for turn persistence.
type Store interface {
	agent.TurnSource

	// AppendTurn stores turn at the end of the conversation.
	AppendTurn(ctx context.Context, conversationID string, turn models.Turn) error

	// Search returns up to limit turns whose content contains query
	// (case-insensitive), newest first.
	Search(ctx context.Context, conversationID, query string, limit int) ([]models.Turn, error)
}
