package intent

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Validate runs the bidirectional startup checks. Every configured intent
// must have exactly one agent and every agent's intent must be configured;
// either direction failing refuses startup. A tool bundle without a matching
// agent is only a warning.
func Validate(intents *Registry, agents *AgentRegistry, bundles *ToolRegistry) error {
	var missingAgents, unknownIntents []string

	for _, name := range intents.Names() {
		if _, ok := agents.Resolve(name); !ok {
			missingAgents = append(missingAgents, name)
		}
	}
	for _, name := range agents.Intents() {
		if _, ok := intents.Get(name); !ok {
			unknownIntents = append(unknownIntents, name)
		}
	}

	sort.Strings(missingAgents)
	sort.Strings(unknownIntents)

	if len(missingAgents) > 0 {
		return fmt.Errorf("intents without an agent: %s", strings.Join(missingAgents, ", "))
	}
	if len(unknownIntents) > 0 {
		return fmt.Errorf("agents for unconfigured intents: %s", strings.Join(unknownIntents, ", "))
	}

	if bundles != nil {
		for _, name := range bundles.Intents() {
			if _, ok := agents.Resolve(name); !ok {
				slog.Warn("intent.tools.surplus", "intent", name)
			}
		}
	}
	return nil
}
