package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// emptySchema is used for tools that declare no parameter schema.
const emptySchema = `{"type":"object"}`

// registeredTool pairs a tool with its compiled parameter schema.
type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
	raw    json.RawMessage
}

// ToolRegistry is the closed set of tools exposed to the model. Tools are
// registered at startup, then the registry is frozen and only read.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	frozen bool
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{
		tools: make(map[string]*registeredTool),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool and compiles its schema. Names must be unique.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("register tool: nil tool")
	}
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("register tool %q: name exceeds %d characters", name, MaxToolNameLength)
	}

	raw := tool.Schema()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(emptySchema)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidToolSchema, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, name)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = &registeredTool{tool: tool, schema: compiled, raw: append(json.RawMessage(nil), raw...)}
	return nil
}

// Freeze forbids further registration.
func (r *ToolRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	entry, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

func (r *ToolRegistry) lookup(name string) (*registeredTool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry, ok
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs returns the provider-facing tool descriptions sorted by name.
// policy, when set, marks tools it flags as requiring approval.
func (r *ToolRegistry) Specs(policy *ApprovalPolicy) []ToolSpec {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for name, entry := range r.tools {
		required, _ := policy.Requires(entry.tool)
		specs = append(specs, ToolSpec{
			Name:             name,
			Description:      entry.tool.Description(),
			Schema:           append(json.RawMessage(nil), entry.raw...),
			RequiresApproval: required,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// validate decodes params and checks them against the tool's schema.
// Empty params are treated as an empty object.
func (t *registeredTool) validate(params json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := t.schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("arguments do not match schema: %w", err)
	}
	return params, nil
}
