package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

type fakeTurnSource struct {
	rows      []models.Turn
	err       error
	gotLimit  int
	gotConvID string
}

func (f *fakeTurnSource) GetRecentTurns(_ context.Context, conversationID string, limit int) ([]models.Turn, error) {
	f.gotConvID = conversationID
	f.gotLimit = limit
	return f.rows, f.err
}

func TestBuildWindow_ReversesToOldestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t1 := models.Turn{Role: models.RoleUser, Content: "t1", CreatedAt: base}
	t2 := models.Turn{Role: models.RoleAssistant, Content: "t2", CreatedAt: base.Add(time.Minute)}
	t3 := models.Turn{Role: models.RoleUser, Content: "t3", CreatedAt: base.Add(2 * time.Minute)}
	t4 := models.Turn{Role: models.RoleUser, Content: "t4", CreatedAt: base.Add(3 * time.Minute)}

	source := &fakeTurnSource{rows: []models.Turn{t3, t2, t1}}
	input, err := BuildWindow(context.Background(), source, "conv-1", 0, t4)
	if err != nil {
		t.Fatalf("BuildWindow: %v", err)
	}
	if source.gotLimit != DefaultHistoryLimit || source.gotConvID != "conv-1" {
		t.Errorf("source called with %s/%d", source.gotConvID, source.gotLimit)
	}
	want := []string{"t1", "t2", "t3", "t4"}
	if len(input) != len(want) {
		t.Fatalf("len = %d, want %d", len(input), len(want))
	}
	for i, w := range want {
		if input[i].Content != w {
			t.Errorf("input[%d] = %q, want %q", i, input[i].Content, w)
		}
	}
	if input[1].Role != models.RoleAssistant {
		t.Errorf("role = %q, want assistant", input[1].Role)
	}
}

func TestBuildWindow_NewTurnAlwaysLast(t *testing.T) {
	now := time.Now()
	source := &fakeTurnSource{rows: []models.Turn{
		{Role: models.RoleUser, Content: "later", CreatedAt: now.Add(time.Hour)},
	}}
	input, err := BuildWindow(context.Background(), source, "c", 5, models.Turn{Content: "new", CreatedAt: now})
	if err != nil {
		t.Fatalf("BuildWindow: %v", err)
	}
	last := input[len(input)-1]
	if last.Content != "new" || last.Role != models.RoleUser {
		t.Errorf("last = %+v, want new user turn", last)
	}
}

func TestBuildWindow_TruncatesToLimit(t *testing.T) {
	base := time.Now()
	var rows []models.Turn
	for i := 5; i > 0; i-- {
		rows = append(rows, models.Turn{Role: models.RoleUser, Content: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	input, err := BuildWindow(context.Background(), &fakeTurnSource{rows: rows}, "c", 3, models.Turn{Content: "new"})
	if err != nil {
		t.Fatalf("BuildWindow: %v", err)
	}
	if len(input) != 4 {
		t.Fatalf("len = %d, want 4", len(input))
	}
	// The three most recent rows survive, oldest first.
	if input[0].Content != "d" || input[2].Content != "f" {
		t.Errorf("unexpected window: %v %v %v", input[0].Content, input[1].Content, input[2].Content)
	}
}

func TestBuildWindow_OrdersByTimestamp(t *testing.T) {
	base := time.Now()
	// A source returning slightly out-of-order rows.
	rows := []models.Turn{
		{Role: models.RoleUser, Content: "b", CreatedAt: base.Add(time.Second)},
		{Role: models.RoleUser, Content: "c", CreatedAt: base.Add(2 * time.Second)},
		{Role: models.RoleUser, Content: "a", CreatedAt: base},
	}
	input, err := BuildWindow(context.Background(), &fakeTurnSource{rows: rows}, "c", 10, models.Turn{Content: "new"})
	if err != nil {
		t.Fatalf("BuildWindow: %v", err)
	}
	for i := 1; i < len(input)-1; i++ {
		if input[i].CreatedAt.Before(input[i-1].CreatedAt) {
			t.Fatalf("window not time ordered at %d", i)
		}
	}
}

func TestBuildWindow_Errors(t *testing.T) {
	_, err := BuildWindow(context.Background(), &fakeTurnSource{err: errors.New("db down")}, "c", 10, models.Turn{Content: "x"})
	if err == nil || err.Error() != "load recent turns for c: db down" {
		t.Errorf("err = %v", err)
	}

	_, err = BuildWindow(context.Background(), &fakeTurnSource{rows: []models.Turn{{Role: "system", Content: "x"}}}, "c", 10, models.Turn{Content: "x"})
	if !errors.Is(err, ErrUnsupportedRole) {
		t.Errorf("err = %v, want ErrUnsupportedRole", err)
	}
}

func TestBuildWindow_NilSource(t *testing.T) {
	input, err := BuildWindow(context.Background(), nil, "c", 10, models.Turn{Content: "hi"})
	if err != nil {
		t.Fatalf("BuildWindow: %v", err)
	}
	if len(input) != 1 || input[0].Content != "hi" {
		t.Errorf("unexpected input: %+v", input)
	}
}
