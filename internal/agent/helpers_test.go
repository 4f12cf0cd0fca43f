package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// testTool implements Tool for tests.
type testTool struct {
	name     string
	schema   string
	approval bool
	execFunc func(ctx context.Context, params json.RawMessage, rc *models.RunContext) (*ToolResult, error)

	mu    sync.Mutex
	calls []json.RawMessage
}

func (m *testTool) Name() string        { return m.name }
func (m *testTool) Description() string { return "test tool " + m.name }
func (m *testTool) Schema() json.RawMessage {
	if m.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(m.schema)
}
func (m *testTool) RequiresApproval() bool { return m.approval }
func (m *testTool) Execute(ctx context.Context, params json.RawMessage, rc *models.RunContext) (*ToolResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append(json.RawMessage(nil), params...))
	m.mu.Unlock()
	if m.execFunc == nil {
		return &ToolResult{Content: `{"ok":true}`}, nil
	}
	return m.execFunc(ctx, params, rc)
}

func (m *testTool) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func mustRegistry(tools ...Tool) *ToolRegistry {
	r, err := NewToolRegistry(tools...)
	if err != nil {
		panic(err)
	}
	return r
}

// scriptedProvider replays one scripted event list per invocation and
// records every request it receives.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]*models.StreamEvent
	requests []*InvocationRequest
	// respond, when set, builds the next turn from the request instead of turns.
	respond   func(n int, req *InvocationRequest) []*models.StreamEvent
	invokeErr error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Invoke(ctx context.Context, req *InvocationRequest) (<-chan *models.StreamEvent, error) {
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	var events []*models.StreamEvent
	switch {
	case p.invokeErr != nil:
		p.mu.Unlock()
		return nil, p.invokeErr
	case p.respond != nil:
		events = p.respond(n, req)
	case n < len(p.turns):
		events = p.turns[n]
	default:
		p.mu.Unlock()
		return nil, fmt.Errorf("unexpected invocation %d", n+1)
	}
	p.mu.Unlock()

	ch := make(chan *models.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) invocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) *InvocationRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// recordingObserver records observer callbacks in order.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
	fail   error
}

func (r *recordingObserver) add(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
	return r.fail
}

func (r *recordingObserver) OnStatus(_ context.Context, text string) error {
	return r.add("status:" + text)
}

func (r *recordingObserver) OnToolStart(_ context.Context, callID, name string) error {
	return r.add("start:" + callID + ":" + name)
}

func (r *recordingObserver) OnToolResult(_ context.Context, callID, output string) error {
	return r.add("result:" + callID + ":" + output)
}

func (r *recordingObserver) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// memoryRunStore is an in-memory RunStore for tests.
type memoryRunStore struct {
	mu     sync.Mutex
	states map[string][]byte
	saves  int
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{states: make(map[string][]byte)}
}

func (s *memoryRunStore) Save(_ context.Context, state *RunState) error {
	data, err := state.Marshal()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = data
	s.saves++
	return nil
}

func (s *memoryRunStore) Load(_ context.Context, runID string) (*RunState, error) {
	s.mu.Lock()
	data, ok := s.states[runID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return UnmarshalRunState(data)
}

func (s *memoryRunStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[runID]; !ok {
		return ErrRunNotFound
	}
	delete(s.states, runID)
	return nil
}

func (s *memoryRunStore) has(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[runID]
	return ok
}

func userInput(text string) RunInput {
	return RunInput{{Role: models.RoleUser, Content: text}}
}

func call(id, name, input string) *models.StreamEvent {
	return models.NewToolCallStartedEvent(id, name, json.RawMessage(input))
}

func final(text string) *models.StreamEvent {
	return models.NewFinalOutputEvent(text)
}
