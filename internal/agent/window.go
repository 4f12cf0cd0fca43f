package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// DefaultHistoryLimit is the number of prior turns in a conversation window.
const DefaultHistoryLimit = 10

// BuildWindow assembles the run input for a conversation: up to limit prior
// turns oldest first, followed by newTurn. newTurn is always last whatever
// its timestamp. A limit <= 0 uses DefaultHistoryLimit.
//
// source returns turns newest first. Rows beyond limit are dropped from the
// old end. Roles other than user and assistant fail with ErrUnsupportedRole.
func BuildWindow(ctx context.Context, source TurnSource, conversationID string, limit int, newTurn models.Turn) (RunInput, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var rows []models.Turn
	if source != nil {
		var err error
		rows, err = source.GetRecentTurns(ctx, conversationID, limit)
		if err != nil {
			return nil, fmt.Errorf("load recent turns for %s: %w", conversationID, err)
		}
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	history := make([]models.Turn, len(rows))
	for i, row := range rows {
		history[len(rows)-1-i] = row
	}
	// Stable so equal timestamps keep storage order.
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})

	input := make(RunInput, 0, len(history)+1)
	for _, turn := range history {
		msg, err := turnMessage(turn)
		if err != nil {
			return nil, err
		}
		input = append(input, msg)
	}

	if newTurn.Role == "" {
		newTurn.Role = models.RoleUser
	}
	msg, err := turnMessage(newTurn)
	if err != nil {
		return nil, err
	}
	return append(input, msg), nil
}

func turnMessage(turn models.Turn) (models.Message, error) {
	switch turn.Role {
	case models.RoleUser, models.RoleAssistant:
		return models.Message{
			Role:      turn.Role,
			Content:   turn.Content,
			CreatedAt: turn.CreatedAt,
		}, nil
	default:
		return models.Message{}, fmt.Errorf("%w: %q", ErrUnsupportedRole, turn.Role)
	}
}
