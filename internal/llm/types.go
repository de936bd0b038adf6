// Package llm defines the model client contract and the OpenAI and
// Anthropic implementations used by the conversation core.
package llm

import "context"

// Message is one entry of the chat transcript sent to the model.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDef describes one tool offered to the model. Parameters is a JSON
// schema object.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// StreamChunk is one streamed fragment delivered through the onChunk callback.
type StreamChunk struct {
	Content string
	Done    bool
}

// Result is the aggregated outcome of one model invocation.
type Result struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls", "length"
}

// Client is the model provider contract. Complete is the single-shot path
// used by the guard, classifier and presentation prompts; Run is the agent
// path with tools and optional streaming (onChunk may be nil).
type Client interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userPrompt, conversationID string) (string, error)
	Run(ctx context.Context, messages []Message, tools []ToolDef, onChunk func(StreamChunk)) (*Result, error)
}
