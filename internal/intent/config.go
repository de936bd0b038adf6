package intent

import (
	"fmt"
	"os"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/morgana/internal/prompt"
)

// ConfigDocument is the intent configuration source: the authoritative
// intent list plus one agent prompt per intent.
type ConfigDocument struct {
	Intents []Definition     `json:"intents"`
	Agents  []*prompt.Prompt `json:"agents"`
}

// LoadConfig reads and parses the intent configuration document.
func LoadConfig(path string) (*ConfigDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent config: %w", err)
	}
	var doc ConfigDocument
	if err := json5.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse intent config: %w", err)
	}
	return &doc, nil
}

// Apply registers the document's intents and agent prompts. Each agent
// prompt's target is the intent it handles; a descriptor is registered for
// every one of them. Duplicates fail startup.
func (doc *ConfigDocument) Apply(intents *Registry, agents *AgentRegistry, prompts *prompt.MapStore) error {
	for _, def := range doc.Intents {
		if err := intents.Register(def); err != nil {
			return err
		}
	}
	for _, p := range doc.Agents {
		if err := prompts.Add(p); err != nil {
			return err
		}
		display := capitalize(Normalize(p.Target))
		if def, ok := intents.Get(p.Target); ok {
			display = def.DisplayLabel()
		}
		if err := agents.Register(AgentDescriptor{
			Intent:      p.Target,
			DisplayName: display,
		}); err != nil {
			return err
		}
	}
	return nil
}
