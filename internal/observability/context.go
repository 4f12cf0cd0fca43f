package observability

import "context"

// correlationKey is a context key whose value the log handler copies onto
// every record under the key's own name.
type correlationKey string

const (
	runIDKey          correlationKey = "run_id"
	conversationIDKey correlationKey = "conversation_id"
	userIDKey         correlationKey = "user_id"
	toolCallIDKey     correlationKey = "tool_call_id"
)

// correlationKeys is the order in which the handler emits them.
var correlationKeys = []correlationKey{runIDKey, conversationIDKey, userIDKey, toolCallIDKey}

func AddRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func AddConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

func AddUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// AddToolCallID marks ctx as belonging to one tool execution.
func AddToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, id)
}

// GetToolCallID returns the tool call ctx belongs to, or "".
func GetToolCallID(ctx context.Context) string {
	return stringValue(ctx, toolCallIDKey)
}

func stringValue(ctx context.Context, key correlationKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
