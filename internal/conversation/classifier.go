package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/morgana/internal/bus"
	"github.com/nextlevelbuilder/morgana/internal/intent"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/telemetry"
)

// Classifier maps user text to an intent. Its output is accepted verbatim;
// the router decides whether the intent is actually bound to an agent.
type Classifier struct {
	client  llm.Client
	prompts prompt.Store
	intents *intent.Registry
}

func NewClassifier(client llm.Client, prompts prompt.Store, intents *intent.Registry) *Classifier {
	return &Classifier{client: client, prompts: prompts, intents: intents}
}

// Classify runs the classification prompt. Failures are downgraded, never
// propagated: the result falls back to the reserved "other" intent with the
// failure recorded in the metadata.
func (c *Classifier) Classify(ctx context.Context, conversationID, text string) bus.Classification {
	ctx, span := telemetry.StartSpan(ctx, "classifier.classify", "conversation_id", conversationID)
	defer span.End()

	cls, err := c.classify(ctx, conversationID, text)
	if err != nil {
		slog.Warn("classifier.failed", "conversation_id", conversationID, "error", err)
		return bus.Classification{
			Intent:     intent.Other,
			Confidence: 0,
			Metadata:   map[string]string{"error": fmt.Sprintf("classification_failed: %v", err)},
		}
	}

	slog.Debug("classifier.result",
		"conversation_id", conversationID,
		"intent", cls.Intent,
		"confidence", cls.Confidence)
	return cls
}

func (c *Classifier) classify(ctx context.Context, conversationID, text string) (bus.Classification, error) {
	p, err := c.prompts.Resolve(prompt.IDClassifier)
	if err != nil {
		return bus.Classification{}, err
	}

	system := strings.ReplaceAll(p.Instructions, prompt.PlaceholderIntents, c.intentList())

	raw, err := c.client.Complete(ctx, system, text, conversationID)
	if err != nil {
		return bus.Classification{}, err
	}

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &out); err != nil {
		return bus.Classification{}, fmt.Errorf("parse classification: %w", err)
	}
	if out.Intent == "" {
		return bus.Classification{}, fmt.Errorf("classification without intent")
	}

	return bus.Classification{
		Intent:     intent.Normalize(out.Intent),
		Confidence: out.Confidence,
	}, nil
}

// intentList renders the classifiable intents for the prompt. The reserved
// "other" intent never appears here; it is still a legal model output.
func (c *Classifier) intentList() string {
	var b strings.Builder
	for _, def := range c.intents.List() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return b.String()
}
