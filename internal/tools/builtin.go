package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/morgana/internal/session"
	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// Framework tool names. Every agent gets these four regardless of its
// declared domain tools.
const (
	ToolGetContextVariable = "GetContextVariable"
	ToolSetContextVariable = "SetContextVariable"
	ToolSetQuickReplies    = "SetQuickReplies"
	ToolSetRichCard        = "SetRichCard"
)

// BuiltinNames lists the framework tools in registration order.
func BuiltinNames() []string {
	return []string{
		ToolGetContextVariable,
		ToolSetContextVariable,
		ToolSetQuickReplies,
		ToolSetRichCard,
	}
}

// RegisterBuiltins installs the four framework tools into the registry.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		def     Definition
		handler Handler
	}{
		{
			def: Definition{
				Name:        ToolGetContextVariable,
				Description: "Read a context variable by name. Returns the stored value or a message saying it is missing.",
				Parameters: []Parameter{
					{Name: "name", Description: "Variable name to read.", Required: true, Scope: ScopeRequest},
				},
			},
			handler: getContextVariable,
		},
		{
			def: Definition{
				Name:        ToolSetContextVariable,
				Description: "Store a context variable for later turns. Shared variables become visible to the other assistants.",
				Parameters: []Parameter{
					{Name: "name", Description: "Variable name to write.", Required: true, Scope: ScopeRequest},
					{Name: "value", Description: "Value to store.", Required: true, Scope: ScopeRequest},
				},
			},
			handler: setContextVariable,
		},
		{
			def: Definition{
				Name:        ToolSetQuickReplies,
				Description: "Stage quick reply buttons for this turn. Pass a JSON array of {id, label, value, termination} objects.",
				Parameters: []Parameter{
					{Name: "json_string", Description: "Quick replies as a JSON array.", Required: true, Scope: ScopeRequest},
				},
			},
			handler: setQuickReplies,
		},
		{
			def: Definition{
				Name:        ToolSetRichCard,
				Description: "Stage a rich display card for this turn. Pass a JSON object with title, optional subtitle and a components array.",
				Parameters: []Parameter{
					{Name: "json_string", Description: "Rich card as a JSON object.", Required: true, Scope: ScopeRequest},
				},
			},
			handler: setRichCard,
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.def, b.handler); err != nil {
			return err
		}
	}
	return nil
}

func getContextVariable(_ context.Context, inv *Invocation, args map[string]any) Result {
	name, _ := args["name"].(string)
	if name == "" {
		return Errorf("Error: GetContextVariable requires a non-empty 'name'", nil)
	}

	value, ok := inv.Session.Get(name)
	if !ok {
		slog.Debug("context.read", "conversation_id", inv.ConversationID, "intent", inv.Intent, "name", name, "result", "MISS")
		return OK(fmt.Sprintf("No value stored for '%s'. Ask the user for it, then store it with SetContextVariable.", name))
	}

	slog.Debug("context.read", "conversation_id", inv.ConversationID, "intent", inv.Intent, "name", name, "result", "HIT")
	return OK(stringifyValue(value))
}

func setContextVariable(_ context.Context, inv *Invocation, args map[string]any) Result {
	name, _ := args["name"].(string)
	if name == "" {
		return Errorf("Error: SetContextVariable requires a non-empty 'name'", nil)
	}
	if name == session.KeyQuickReplies || name == session.KeyRichCard {
		return Errorf(fmt.Sprintf("Error: '%s' is a reserved key", name), nil)
	}
	value, ok := args["value"]
	if !ok {
		return Errorf("Error: SetContextVariable requires a 'value'", nil)
	}

	shared := inv.Session.Set(name, value)
	if shared && inv.OnSharedWrite != nil {
		inv.OnSharedWrite(name, value)
	}

	slog.Debug("context.write", "conversation_id", inv.ConversationID, "intent", inv.Intent, "name", name, "shared", shared)
	return OK(fmt.Sprintf("Stored '%s'.", name))
}

func setQuickReplies(_ context.Context, inv *Invocation, args map[string]any) Result {
	raw, _ := args["json_string"].(string)

	var replies []protocol.QuickReply
	if err := json.Unmarshal([]byte(raw), &replies); err != nil || len(replies) == 0 {
		return Errorf("Error: quick replies must be a non-empty JSON array of {id, label, value, termination} objects", err)
	}
	for _, qr := range replies {
		if qr.Label == "" || qr.Value == "" {
			return Errorf("Error: every quick reply needs a label and a value", nil)
		}
	}

	inv.Session.Set(session.KeyQuickReplies, raw)
	return OK(fmt.Sprintf("Staged %d quick replies.", len(replies)))
}

func setRichCard(_ context.Context, inv *Invocation, args map[string]any) Result {
	raw, _ := args["json_string"].(string)

	var card protocol.RichCard
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return Errorf("Error: rich card must be a JSON object with title and components", err)
	}
	if err := ValidateCard(&card); err != nil {
		return Errorf(err.Error(), err)
	}

	inv.Session.Set(session.KeyRichCard, raw)
	return OK("Staged rich card.")
}

func stringifyValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
