// Package tools implements the tool surface exposed to the model: the
// registry, the four framework built-ins, rich card validation, and the
// delegate checks run at agent construction.
package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/morgana/internal/session"
)

// Parameter scopes. Context-scoped parameters live in the session's context
// variables; request-scoped values come from the user message.
const (
	ScopeContext = "context"
	ScopeRequest = "request"
)

// Parameter describes one tool parameter.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Scope       string `json:"scope"`  // "context" or "request"
	Shared      bool   `json:"shared"` // shared implies scope=context
}

// Definition describes one tool offered to the model.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Validate checks structural invariants of a definition.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool has empty name")
	}
	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter with empty name", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %s: duplicate parameter %q", d.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Scope {
		case ScopeContext, ScopeRequest:
		default:
			return fmt.Errorf("tool %s: parameter %q has invalid scope %q", d.Name, p.Name, p.Scope)
		}
		if p.Shared && p.Scope != ScopeContext {
			return fmt.Errorf("tool %s: parameter %q is shared but not context-scoped", d.Name, p.Name)
		}
	}
	return nil
}

// Invocation carries the per-turn state a tool executes against. It replaces
// closure capture: handlers are plain functions receiving everything they
// need explicitly.
type Invocation struct {
	ConversationID string
	Intent         string
	Session        *session.Session

	// OnSharedWrite fires once per write of a shared variable, in write
	// order. Nil disables broadcasting.
	OnSharedWrite func(key string, value any)
}

// Handler executes one tool call.
type Handler func(ctx context.Context, inv *Invocation, args map[string]any) Result
