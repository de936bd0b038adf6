package intent

import (
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/morgana/internal/tools"
)

// AgentDescriptor binds one agent to the single intent it handles.
// Registration replaces the attribute-driven discovery of the original
// design: wiring code calls AgentRegistry.Register for every handler.
type AgentDescriptor struct {
	Intent      string
	DisplayName string // shown to clients as "Morgana (<DisplayName>)"
}

// AgentRegistry maps intent -> agent descriptor (case-insensitive).
type AgentRegistry struct {
	mu       sync.RWMutex
	byIntent map[string]AgentDescriptor
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{byIntent: make(map[string]AgentDescriptor)}
}

// Register adds a handler descriptor. Duplicates and the reserved intent
// are startup errors.
func (r *AgentRegistry) Register(d AgentDescriptor) error {
	name := Normalize(d.Intent)
	if name == "" {
		return fmt.Errorf("agent with empty intent")
	}
	if name == Other {
		return fmt.Errorf("agent cannot handle reserved intent %q", Other)
	}
	d.Intent = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byIntent[name]; exists {
		return fmt.Errorf("duplicate agent for intent %q", name)
	}
	r.byIntent[name] = d
	return nil
}

// Resolve looks up the descriptor for an intent.
func (r *AgentRegistry) Resolve(intent string) (AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byIntent[Normalize(intent)]
	return d, ok
}

// Intents returns all registered intent names.
func (r *AgentRegistry) Intents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byIntent))
	for name := range r.byIntent {
		out = append(out, name)
	}
	return out
}

// ToolBundle is the single domain tool class for one intent: definitions
// plus their typed handlers.
type ToolBundle struct {
	Intent   string
	Tools    []tools.Definition
	Handlers map[string]tools.Handler
}

// ToolRegistry maps intent -> domain tool bundle. At most one bundle per
// intent; duplicates are startup errors. Intents without a bundle are
// permitted (that agent has no domain capabilities).
type ToolRegistry struct {
	mu       sync.RWMutex
	byIntent map[string]ToolBundle
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byIntent: make(map[string]ToolBundle)}
}

func (r *ToolRegistry) Register(b ToolBundle) error {
	name := Normalize(b.Intent)
	if name == "" {
		return fmt.Errorf("tool bundle with empty intent")
	}
	b.Intent = name
	for _, def := range b.Tools {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("tool bundle for %q: %w", name, err)
		}
		if _, ok := b.Handlers[def.Name]; !ok {
			return fmt.Errorf("tool bundle for %q: no handler for %q", name, def.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byIntent[name]; exists {
		return fmt.Errorf("duplicate tool bundle for intent %q", name)
	}
	r.byIntent[name] = b
	return nil
}

func (r *ToolRegistry) Resolve(intent string) (ToolBundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byIntent[Normalize(intent)]
	return b, ok
}

func (r *ToolRegistry) Intents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byIntent))
	for name := range r.byIntent {
		out = append(out, name)
	}
	return out
}
