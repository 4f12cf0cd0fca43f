package preferences

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// Tools returns get_preferences and set_preference over store.
func Tools(store Store) []agent.Tool {
	return []agent.Tool{&GetTool{store: store}, &SetTool{store: store}}
}

func owner(rc *models.RunContext) string {
	if rc == nil {
		return ""
	}
	if rc.UserID != "" {
		return rc.UserID
	}
	return rc.ConversationID
}

// GetTool reads stored preferences.
type GetTool struct {
	store Store
}

func (t *GetTool) Name() string { return "get_preferences" }

func (t *GetTool) Description() string {
	return "Returns the user's stored preferences, or a single one when key is given."
}

func (t *GetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "key": {"type": "string", "description": "Preference to read; omit for all"}
  },
  "additionalProperties": false
}`)
}

func (t *GetTool) RequiresApproval() bool { return false }

func (t *GetTool) Execute(ctx context.Context, params json.RawMessage, rc *models.RunContext) (*agent.ToolResult, error) {
	var input struct {
		Key string `json:"key"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
		}
	}
	prefs, err := t.store.Get(ctx, owner(rc))
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	if key := strings.TrimSpace(input.Key); key != "" {
		value, ok := prefs[key]
		if !ok {
			return &agent.ToolResult{Content: fmt.Sprintf("no preference named %q", key), IsError: true}, nil
		}
		prefs = map[string]string{key: value}
	}

	payload, err := json.Marshal(struct {
		Preferences map[string]string `json:"preferences"`
	}{Preferences: prefs})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to encode preferences: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// SetTool writes a preference. It changes stored state, so every call
// waits for a human decision.
type SetTool struct {
	store Store
}

func (t *SetTool) Name() string { return "set_preference" }

func (t *SetTool) Description() string {
	return "Stores a user preference such as a favorite color."
}

func (t *SetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "key": {"type": "string", "minLength": 1},
    "value": {"type": "string"}
  },
  "required": ["key", "value"],
  "additionalProperties": false
}`)
}

func (t *SetTool) RequiresApproval() bool { return true }

func (t *SetTool) Execute(ctx context.Context, params json.RawMessage, rc *models.RunContext) (*agent.ToolResult, error) {
	var input struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	who := owner(rc)
	if who == "" {
		return &agent.ToolResult{Content: "no user to store preferences for", IsError: true}, nil
	}
	if err := t.store.Set(ctx, who, input.Key, input.Value); err != nil {
		return nil, fmt.Errorf("store preference: %w", err)
	}
	payload, _ := json.Marshal(map[string]any{"ok": true, "key": input.Key, "value": input.Value})
	return &agent.ToolResult{Content: string(payload)}, nil
}
