package sessions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

var _ agent.TurnSource = (*MemoryStore)(nil)

func appendTurns(t *testing.T, store Store, conversationID string, contents ...string) {
	t.Helper()
	for i, content := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		if err := store.AppendTurn(context.Background(), conversationID, models.Turn{Role: role, Content: content}); err != nil {
			t.Fatalf("AppendTurn(%q) error = %v", content, err)
		}
	}
}

func contents(turns []models.Turn) []string {
	out := make([]string, len(turns))
	for i, turn := range turns {
		out[i] = turn.Content
	}
	return out
}

func TestMemoryStore_GetRecentTurnsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	appendTurns(t, store, "conv-1", "one", "two", "three")
	appendTurns(t, store, "conv-2", "other")

	turns, err := store.GetRecentTurns(context.Background(), "conv-1", 2)
	if err != nil {
		t.Fatalf("GetRecentTurns() error = %v", err)
	}
	if got := fmt.Sprint(contents(turns)); got != "[three two]" {
		t.Errorf("turns = %s, want [three two]", got)
	}
	if turns[0].CreatedAt.IsZero() {
		t.Error("AppendTurn should stamp CreatedAt")
	}

	turns, _ = store.GetRecentTurns(context.Background(), "missing", 5)
	if len(turns) != 0 {
		t.Errorf("unknown conversation returned %d turns", len(turns))
	}
	turns, _ = store.GetRecentTurns(context.Background(), "conv-1", 0)
	if len(turns) != 0 {
		t.Errorf("limit 0 returned %d turns", len(turns))
	}
}

func TestMemoryStore_Validation(t *testing.T) {
	store := NewMemoryStore()
	if err := store.AppendTurn(context.Background(), "", models.Turn{Role: models.RoleUser}); !errors.Is(err, ErrConversationRequired) {
		t.Errorf("AppendTurn without conversation = %v", err)
	}
	if err := store.AppendTurn(context.Background(), "conv", models.Turn{}); err == nil {
		t.Error("AppendTurn without role should fail")
	}
	if _, err := store.GetRecentTurns(context.Background(), "", 1); !errors.Is(err, ErrConversationRequired) {
		t.Errorf("GetRecentTurns without conversation = %v", err)
	}
	if _, err := store.Search(context.Background(), "conv", "  ", 1); err == nil {
		t.Error("Search with blank query should fail")
	}
}

func TestMemoryStore_Search(t *testing.T) {
	store := NewMemoryStore()
	appendTurns(t, store, "conv-1", "My favorite color is Blue", "Noted.", "blue again", "red")

	turns, err := store.Search(context.Background(), "conv-1", "BLUE", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := fmt.Sprint(contents(turns)); got != "[blue again My favorite color is Blue]" {
		t.Errorf("matches = %s", got)
	}
}

func TestMemoryStore_TrimsOldestTurns(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < maxTurnsPerConversation+5; i++ {
		if err := store.AppendTurn(context.Background(), "conv", models.Turn{Role: models.RoleUser, Content: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	turns, _ := store.GetRecentTurns(context.Background(), "conv", maxTurnsPerConversation*2)
	if len(turns) != maxTurnsPerConversation {
		t.Fatalf("kept %d turns, want %d", len(turns), maxTurnsPerConversation)
	}
	if last := turns[len(turns)-1].Content; last != "5" {
		t.Errorf("oldest kept turn = %s, want 5", last)
	}
}
