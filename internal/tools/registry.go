// Package tools implements SheetPilot's tool registry and executor.
//
// The registry is populated once at process start — built-in spreadsheet
// tools plus, optionally, tools imported from external MCP servers — and is
// immutable afterwards from the model's point of view. The agent engine
// attaches [Registry.Definitions] to every model call; the executor resolves
// the model's tool calls back through the registry.
//
// All methods are safe for concurrent use.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// Tool pairs an LLM-facing definition with the handler invoked when the
// model calls it.
type Tool struct {
	// Definition is the tool's schema: name, description, and JSON Schema
	// parameter specification.
	Definition types.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns a result
	// string on success, or a descriptive error. Implementations must be
	// safe for concurrent use and must respect context cancellation.
	Handler func(ctx context.Context, args string) (string, error)
}

// Registry holds all tools available to the agent, keyed by name.
//
// The zero value is NOT usable; create instances with [NewRegistry].
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the registry. Registering a duplicate or unnamed tool
// is a programming error and fails.
func (r *Registry) Register(t Tool) error {
	if t.Definition.Name == "" {
		return fmt.Errorf("tools: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a handler", t.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Definition.Name]; exists {
		return fmt.Errorf("tools: tool %q is already registered", t.Definition.Name)
	}
	r.tools[t.Definition.Name] = t
	return nil
}

// RegisterAll registers every tool in ts, stopping at the first failure.
func (r *Registry) RegisterAll(ts []Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the named tool and whether it exists.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the LLM-facing definitions of all registered tools,
// sorted by name for a stable prompt layout.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ValidateInput checks a JSON-encoded args string against the named tool's
// declared parameter schema: args must be a JSON object, every property the
// schema marks required must be present, and present properties must match
// the schema's primitive type where one is declared.
//
// This is a structural pre-flight, not a full JSON Schema evaluation — the
// model is the caller, and a clear message it can correct beats a strict
// validator it cannot.
func (r *Registry) ValidateInput(name, args string) error {
	t, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("tools: unknown tool %q", name)
	}

	var input map[string]any
	if args == "" {
		input = map[string]any{}
	} else if err := json.Unmarshal([]byte(args), &input); err != nil {
		return fmt.Errorf("tools: %s: arguments are not a JSON object: %w", name, err)
	}

	schema := t.Definition.Parameters
	if schema == nil {
		return nil
	}

	props, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		for _, req := range required {
			key, ok := req.(string)
			if !ok {
				continue
			}
			if _, present := input[key]; !present {
				return fmt.Errorf("tools: %s: missing required property %q", name, key)
			}
		}
	}

	for key, val := range input {
		propSchema, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		want, ok := propSchema["type"].(string)
		if !ok {
			continue
		}
		if err := checkJSONType(want, val); err != nil {
			return fmt.Errorf("tools: %s: property %q: %w", name, key, err)
		}
	}

	return nil
}

// checkJSONType verifies that val matches the JSON Schema primitive type want.
func checkJSONType(want string, val any) error {
	ok := true
	switch want {
	case "string":
		_, ok = val.(string)
	case "number":
		_, ok = val.(float64)
	case "integer":
		f, isNum := val.(float64)
		ok = isNum && f == float64(int64(f))
	case "boolean":
		_, ok = val.(bool)
	case "object":
		_, ok = val.(map[string]any)
	case "array":
		_, ok = val.([]any)
	case "null":
		ok = val == nil
	}
	if !ok {
		return fmt.Errorf("expected %s, got %T", want, val)
	}
	return nil
}
