package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/morgana/internal/llm"
)

// Registry maps tool names to definitions and handlers. Registration happens
// during startup wiring; the registry is effectively immutable afterwards.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	handlers map[string]Handler
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool. Duplicate names and invalid definitions are startup
// errors.
func (r *Registry) Register(def Definition, handler Handler) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("tool %s: nil handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("duplicate tool registration %q", def.Name)
	}
	r.defs[def.Name] = def
	r.handlers[def.Name] = handler
	r.order = append(r.order, def.Name)
	return nil
}

// Get looks up a definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Execute runs a tool by name. An unknown tool yields an LLM-visible error
// string, not a Go error.
func (r *Registry) Execute(ctx context.Context, name string, inv *Invocation, args map[string]any) Result {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Errorf(fmt.Sprintf("Error: unknown tool '%s'", name), nil)
	}
	return handler(ctx, inv, args)
}

// ProviderDefs builds the tool list handed to the model for the named tools.
// Parameter descriptions are decorated by scope with the framework guidance
// texts so the model knows where each value should come from.
func (r *Registry) ProviderDefs(names []string, contextGuidance, requestGuidance string) ([]llm.ToolDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		def, ok := r.defs[name]
		if !ok {
			return nil, fmt.Errorf("tool %q is not registered", name)
		}

		properties := make(map[string]any, len(def.Parameters))
		var required []string
		for _, p := range def.Parameters {
			desc := p.Description
			switch p.Scope {
			case ScopeContext:
				desc += contextGuidance
			case ScopeRequest:
				desc += requestGuidance
			}
			properties[p.Name] = map[string]any{
				"type":        "string",
				"description": desc,
			}
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

		out = append(out, llm.ToolDef{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	return out, nil
}
