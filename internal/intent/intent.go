// Package intent holds the intent, agent and domain-tool registries and the
// bidirectional startup validation between them.
package intent

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// Other is the reserved fallback intent meaning "no handler". It is a legal
// classifier output but never maps to a concrete agent and never appears in
// the registry.
const Other = "other"

// Definition describes one classifiable intent. Names are lowercase.
type Definition struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Label        string `json:"label,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`
}

// DisplayLabel returns the label, falling back to the capitalized name.
func (d Definition) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return capitalize(d.Name)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Normalize lowercases an intent name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry is the authoritative intent list, loaded from domain
// configuration. Immutable after startup.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Definition
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Definition)}
}

// Register adds an intent definition. "other" is excluded from membership;
// duplicates are startup errors.
func (r *Registry) Register(def Definition) error {
	name := Normalize(def.Name)
	if name == "" {
		return fmt.Errorf("intent with empty name")
	}
	if name == Other {
		return fmt.Errorf("intent %q is reserved and cannot be registered", Other)
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("duplicate intent %q", name)
	}
	r.byName[name] = def
	r.order = append(r.order, name)
	return nil
}

// Get looks up an intent by name (case-insensitive).
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[Normalize(name)]
	return def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns all intent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
