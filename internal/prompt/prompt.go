// Package prompt resolves the prompt templates the conversation core runs on:
// the guard, classifier and presentation prompts, the per-intent agent
// prompts, and the framework policy texts.
package prompt

import "encoding/json"

// Well-known prompt ids.
const (
	IDGuard        = "guard"
	IDClassifier   = "classifier"
	IDPresentation = "presentation"
	IDFramework    = "framework"
)

// Placeholders substituted into error templates. Bit-exact; clients and
// prompt authors rely on these literals.
const (
	PlaceholderLLMError  = "((llm_error))"
	PlaceholderViolation = "((violation))"
	PlaceholderIntents   = "((intents))"
)

// Prompt is one resolved template. Properties is a typed bag accessed
// through the accessor methods below.
type Prompt struct {
	Target       string                     `json:"target"`
	Instructions string                     `json:"instructions"`
	Personality  string                     `json:"personality,omitempty"`
	Properties   map[string]json.RawMessage `json:"properties,omitempty"`
}

func (p *Prompt) propString(key, fallback string) string {
	if raw, ok := p.Properties[key]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return fallback
}

func (p *Prompt) propStringSlice(key string) []string {
	if raw, ok := p.Properties[key]; ok {
		var s []string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return nil
}

// Tools lists the tool names this prompt's agent declares.
func (p *Prompt) Tools() []string { return p.propStringSlice("Tools") }

// GlobalPolicies is the policy text appended to every agent system prompt.
func (p *Prompt) GlobalPolicies() string { return p.propString("GlobalPolicies", "") }

// FallbackMessage is the presentation text used when the presentation LLM
// call fails.
func (p *Prompt) FallbackMessage() string {
	return p.propString("FallbackMessage", "Hello! Here is what I can help you with: "+PlaceholderIntents)
}

// ToolParameterContextGuidance decorates context-scoped tool parameters.
func (p *Prompt) ToolParameterContextGuidance() string {
	return p.propString("ToolParameterContextGuidance",
		" Check GetContextVariable for this value before asking the user.")
}

// ToolParameterRequestGuidance decorates request-scoped tool parameters.
func (p *Prompt) ToolParameterRequestGuidance() string {
	return p.propString("ToolParameterRequestGuidance",
		" Take this value directly from the user's message.")
}

// MissingClassificationError is pushed when routing happens without a
// classification.
func (p *Prompt) MissingClassificationError() string {
	return p.propString("MissingClassificationError",
		"I could not understand your request. Could you rephrase it?")
}

// UnrecognizedIntentError is pushed when the classified intent has no agent.
func (p *Prompt) UnrecognizedIntentError() string {
	return p.propString("UnrecognizedIntentError",
		"I'm not able to help with that topic.")
}

// LLMServiceError templates model failures; ((llm_error)) is replaced with
// the underlying error text.
func (p *Prompt) LLMServiceError() string {
	return p.propString("LLMServiceError",
		"The assistant is temporarily unavailable: "+PlaceholderLLMError)
}

// GuardAnswer templates guard rejections; ((violation)) is replaced with the
// violation description.
func (p *Prompt) GuardAnswer() string {
	return p.propString("GuardAnswer",
		"I can't help with that. "+PlaceholderViolation)
}

// GenericError is the terminal response for any agent failure.
func (p *Prompt) GenericError() string {
	return p.propString("GenericError",
		"Something went wrong while processing your request. Please try again.")
}
