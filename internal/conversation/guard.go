// Package conversation implements the per-conversation actor tree: the
// supervisor FSM, the guard and classifier adapters, the router with its
// broadcast bus, and the process-global conversation manager.
package conversation

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/morgana/internal/bus"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/telemetry"
)

// Guard moderates raw user text before any routing happens. It never
// suppresses traffic itself: the fail-open decision on guard errors belongs
// to the supervisor, which treats an error verdict as compliant.
type Guard struct {
	client  llm.Client
	prompts prompt.Store
}

func NewGuard(client llm.Client, prompts prompt.Store) *Guard {
	return &Guard{client: client, prompts: prompts}
}

// Check runs the moderation prompt over the user text. Any failure along the
// way (prompt missing, model error, unparseable output) yields a compliant
// verdict: moderation outages must not block traffic.
func (g *Guard) Check(ctx context.Context, conversationID, text string) bus.GuardVerdict {
	ctx, span := telemetry.StartSpan(ctx, "guard.check", "conversation_id", conversationID)
	defer span.End()

	p, err := g.prompts.Resolve(prompt.IDGuard)
	if err != nil {
		slog.Warn("guard.fail_open", "conversation_id", conversationID, "error", err)
		return bus.GuardVerdict{Compliant: true}
	}

	raw, err := g.client.Complete(ctx, p.Instructions, text, conversationID)
	if err != nil {
		slog.Warn("guard.fail_open", "conversation_id", conversationID, "error", err)
		return bus.GuardVerdict{Compliant: true}
	}

	var verdict bus.GuardVerdict
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &verdict); err != nil {
		slog.Warn("guard.fail_open", "conversation_id", conversationID, "error", err)
		return bus.GuardVerdict{Compliant: true}
	}

	if !verdict.Compliant {
		slog.Info("guard.violation", "conversation_id", conversationID, "violation", verdict.Violation)
	}
	return verdict
}
