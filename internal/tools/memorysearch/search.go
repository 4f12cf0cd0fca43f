// Package memorysearch exposes stored conversation turns to the model.
package memorysearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// Searcher finds stored turns containing a query, newest first.
type Searcher interface {
	Search(ctx context.Context, conversationID, query string, limit int) ([]models.Turn, error)
}

// Config configures result limits.
type Config struct {
	MaxResults    int
	MaxSnippetLen int
}

// SearchResult is one matching turn.
type SearchResult struct {
	Role      models.Role `json:"role"`
	Snippet   string      `json:"snippet"`
	CreatedAt time.Time   `json:"created_at"`
}

// SearchTool implements agent.Tool over the turns of the current conversation.
type SearchTool struct {
	searcher Searcher
	config   Config
}

// NewSearchTool creates a search_memory tool backed by searcher.
func NewSearchTool(searcher Searcher, cfg *Config) *SearchTool {
	config := Config{}
	if cfg != nil {
		config = *cfg
	}
	if config.MaxResults == 0 {
		config.MaxResults = 5
	}
	if config.MaxSnippetLen == 0 {
		config.MaxSnippetLen = 200
	}
	return &SearchTool{searcher: searcher, config: config}
}

// Name returns the tool name.
func (t *SearchTool) Name() string {
	return "search_memory"
}

// Description explains the tool.
func (t *SearchTool) Description() string {
	return "Searches earlier turns of this conversation for a query."
}

// Schema defines the parameters for the tool.
func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "Text to look for"},
    "max_results": {"type": "integer", "minimum": 1, "description": "Max results to return"}
  },
  "required": ["query"],
  "additionalProperties": false
}`)
}

// RequiresApproval reports false; searching is read-only.
func (t *SearchTool) RequiresApproval() bool {
	return false
}

// Execute runs the search.
func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage, rc *models.RunContext) (*agent.ToolResult, error) {
	var input struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return &agent.ToolResult{Content: "query is required", IsError: true}, nil
	}
	if rc == nil || rc.ConversationID == "" {
		return &agent.ToolResult{Content: "no conversation to search", IsError: true}, nil
	}

	maxResults := t.config.MaxResults
	if input.MaxResults > 0 {
		maxResults = input.MaxResults
	}

	turns, err := t.searcher.Search(ctx, rc.ConversationID, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search turns: %w", err)
	}

	results := make([]SearchResult, 0, len(turns))
	for _, turn := range turns {
		results = append(results, SearchResult{
			Role:      turn.Role,
			Snippet:   snippet(turn.Content, query, t.config.MaxSnippetLen),
			CreatedAt: turn.CreatedAt,
		})
	}

	payload, err := json.Marshal(struct {
		Query   string         `json:"query"`
		Results []SearchResult `json:"results"`
	}{
		Query:   query,
		Results: results,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to encode results: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// snippet returns up to maxLen runes of content centered on the first match.
func snippet(content, query string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(content) <= maxLen {
		return content
	}
	runes := []rune(content)
	start := 0
	if idx := strings.Index(strings.ToLower(content), strings.ToLower(query)); idx >= 0 {
		start = utf8.RuneCountInString(content[:idx]) - maxLen/4
	}
	start = max(0, min(start, len(runes)-maxLen))
	out := string(runes[start : start+maxLen])
	if start > 0 {
		out = "..." + out
	}
	if start+maxLen < len(runes) {
		out += "..."
	}
	return out
}
