package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIProvider implements agent.ModelProvider on OpenAI's chat completions
// streaming API.
//
// One invocation maps to one streamed completion:
//   - text deltas are accumulated and emitted as a single final_output event
//     when the completion ends without tool calls
//   - tool call fragments are accumulated by index and emitted as
//     tool_call_started events, in index order, when the model finishes with
//     finish_reason "tool_calls"; no final_output follows in that case
//   - stream failures are emitted as an error event classified by
//     ClassifyError
//
// Thread Safety:
// OpenAIProvider is safe for concurrent use. Each Invoke call creates an
// independent stream and goroutine.
type OpenAIProvider struct {
	BaseProvider
	client       *openai.Client
	defaultModel string
	maxTokens    int
}

// NewOpenAIProvider creates a provider with default retry settings.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return NewOpenAIProviderWithConfig(OpenAIConfig{APIKey: apiKey})
}

// NewOpenAIProviderWithConfig creates a provider from config. An empty API
// key yields a provider whose Invoke calls fail, which allows delayed
// configuration.
func NewOpenAIProviderWithConfig(cfg OpenAIConfig) *OpenAIProvider {
	p := &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", cfg.MaxRetries, cfg.RetryDelay),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}
	if p.defaultModel == "" {
		p.defaultModel = openai.GPT4o
	}
	if cfg.APIKey == "" {
		return p
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	p.client = openai.NewClientWithConfig(clientCfg)
	return p
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Invoke starts a streamed completion for req. Stream creation is retried
// on transient failures; errors after the stream is open are delivered
// in-band as an error event.
func (p *OpenAIProvider) Invoke(ctx context.Context, req *agent.InvocationRequest) (<-chan *models.StreamEvent, error) {
	if p.client == nil {
		return nil, errors.New("OpenAI API key not configured")
	}
	if req == nil {
		return nil, errors.New("invocation request is nil")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	messages, err := convertToOpenAIMessages(req.Messages, req.Instructions)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if p.maxTokens > 0 {
		chatReq.MaxTokens = p.maxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err = p.Retry(ctx, IsRetryable, func() error {
		s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return p.wrapError(err, model)
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make(chan *models.StreamEvent)
	go p.processStream(ctx, stream, model, events)
	return events, nil
}

// processStream converts one completion stream into StreamEvents and closes
// events when done.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, model string, events chan<- *models.StreamEvent) {
	defer close(events)
	defer stream.Close()

	send := func(ev *models.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var text strings.Builder
	calls := make(map[int]*models.ToolCall)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if perr, ok := GetProviderError(p.wrapError(err, model)); ok {
				send(perr.Event())
				return
			}
			send(models.NewErrorEvent(string(ReasonUnknown), err.Error()))
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			accumulateToolCall(calls, tc)
		}
		if choice.FinishReason == openai.FinishReasonContentFilter {
			send(models.NewErrorEvent(string(ReasonContentFilter), "completion blocked by content filter"))
			return
		}
	}

	if len(calls) > 0 {
		if text.Len() > 0 && !send(models.NewStatusEvent(text.String())) {
			return
		}
		for _, tc := range orderedToolCalls(calls) {
			if !send(&models.StreamEvent{Type: models.StreamToolCallStarted, ToolCall: tc}) {
				return
			}
		}
		return
	}
	send(models.NewFinalOutputEvent(text.String()))
}

// accumulateToolCall folds one streamed fragment into the call at its index.
func accumulateToolCall(calls map[int]*models.ToolCall, tc openai.ToolCall) {
	index := 0
	if tc.Index != nil {
		index = *tc.Index
	}
	call := calls[index]
	if call == nil {
		call = &models.ToolCall{}
		calls[index] = call
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		call.Input = append(call.Input, tc.Function.Arguments...)
	}
}

// orderedToolCalls returns complete calls sorted by stream index.
func orderedToolCalls(calls map[int]*models.ToolCall) []*models.ToolCall {
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]*models.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		tc := calls[i]
		if tc.ID == "" || tc.Name == "" {
			continue
		}
		if len(tc.Input) == 0 {
			tc.Input = json.RawMessage(`{}`)
		}
		out = append(out, tc)
	}
	return out
}

// convertToOpenAIMessages renders the run conversation in OpenAI's format.
// Instructions become the leading system message and every tool result is
// its own "tool" message.
func convertToOpenAIMessages(messages []models.Message, instructions string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if instructions != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: instructions,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

// convertToOpenAITools converts tool specs to function definitions. An
// unparseable schema degrades to an empty object schema.
func convertToOpenAITools(specs []agent.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schema map[string]any
		if err := json.Unmarshal(spec.Schema, &schema); err != nil || schema == nil {
			schema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

// wrapError converts go-openai errors into a ProviderError carrying status
// and code.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	perr := NewProviderError("openai", model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode != 0 {
			perr = perr.WithStatus(apiErr.HTTPStatusCode)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			perr = perr.WithCode(code)
		}
		if apiErr.Message != "" {
			perr = perr.WithMessage(apiErr.Message)
		}
		return perr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		perr = perr.WithStatus(reqErr.HTTPStatusCode)
	}
	return perr
}
