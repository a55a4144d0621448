// Package tools provides the tool catalog the agent exposes to the LLM:
// registration, JSON-schema export for function calling, and validated
// execution.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mehdiaksoy/mateai/pkg/llm"
)

// ErrToolNotFound is returned when no tool is registered under a name.
var ErrToolNotFound = errors.New("tool not found")

// ErrAlreadyRegistered is returned when registering a duplicate tool name.
var ErrAlreadyRegistered = errors.New("tool already registered")

// Parameter types accepted in tool declarations.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Parameter declares one tool input.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool

	// Schema optionally refines the parameter beyond its type (enums,
	// nested object schemas). Merged into the JSON-schema export.
	Schema map[string]any
}

// Handler executes a validated tool call.
type Handler func(ctx context.Context, input map[string]any) (any, error)

// Tool is one entry of the catalog.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
	Category    string
}

// ExecutionResult is a tool call's outcome. Failures are values, never
// panics, so the LLM can read the error and recover.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the catalog.
func (r *Registry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}
	for _, p := range tool.Parameters {
		switch p.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		default:
			return fmt.Errorf("tool %q parameter %q has unknown type %q", tool.Name, p.Name, p.Type)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// List returns all registered tools.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	return out
}

// Definitions exports the catalog as LLM function-calling definitions. The
// schema is derived from the declared parameters, not hand-written per tool.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		properties := make(map[string]any, len(tool.Parameters))
		var required []string
		for _, p := range tool.Parameters {
			prop := map[string]any{"type": p.Type}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			for k, v := range p.Schema {
				prop[k] = v
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}
		schema := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return defs
}

// Execute validates input against the tool's declared parameters and runs
// the handler. Unknown tools, invalid input, and handler errors all come
// back as structured failure results.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) *ExecutionResult {
	tool, err := r.Get(name)
	if err != nil {
		return &ExecutionResult{Success: false, Error: err.Error()}
	}

	if err := validateInput(tool, input); err != nil {
		return &ExecutionResult{Success: false, Error: err.Error()}
	}

	result, err := tool.Handler(ctx, input)
	if err != nil {
		return &ExecutionResult{Success: false, Error: err.Error()}
	}
	return &ExecutionResult{Success: true, Result: result}
}

// validateInput checks required parameters and value types before the
// handler runs.
func validateInput(tool *Tool, input map[string]any) error {
	for _, p := range tool.Parameters {
		value, present := input[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, value) {
			return fmt.Errorf("parameter %q: expected %s, got %T", p.Name, p.Type, value)
		}
	}
	return nil
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	}
	return false
}
