// Package protocol defines the wire shapes pushed to conversation clients.
package protocol

// Message types attached to structured pushes.
const (
	MessageAssistant    = "assistant"
	MessagePresentation = "presentation"
	MessageSystem       = "system"
	MessageError        = "error"
)

// WebSocket event names pushed from server to client.
const (
	EventChat     = "chat"
	EventHealth   = "health"
	EventShutdown = "shutdown"
)

// Chat event subtypes (in payload.type).
const (
	ChatEventChunk   = "chunk"
	ChatEventMessage = "message"
)

// QuickReply is one suggested reply rendered under an assistant message.
// Termination is carried through opaquely; clients decide what to do with it.
type QuickReply struct {
	ID          string `json:"id,omitempty"`
	Label       string `json:"label"`
	Value       string `json:"value"`
	Termination string `json:"termination,omitempty"`
}

// CardComponent is one node of a rich card, discriminated by Type.
// Valid types: text_block, key_value, divider, list, section, grid, badge.
type CardComponent struct {
	Type string `json:"type"`

	// text_block
	Text  string `json:"text,omitempty"`
	Style string `json:"style,omitempty"`

	// key_value
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// list
	Items   []string `json:"items,omitempty"`
	Ordered bool     `json:"ordered,omitempty"`

	// badge
	Label string `json:"label,omitempty"`
	Tone  string `json:"tone,omitempty"`

	// grid
	Columns int `json:"columns,omitempty"`

	// section and grid children
	Title      string          `json:"title,omitempty"`
	Components []CardComponent `json:"components,omitempty"`
}

// RichCard is a structured display artifact staged by the model for one turn.
type RichCard struct {
	Title      string          `json:"title"`
	Subtitle   string          `json:"subtitle,omitempty"`
	Components []CardComponent `json:"components"`
}

// ConversationResponse is the outward shape pushed to clients at the end of
// a turn (or for presentation/system/error messages).
type ConversationResponse struct {
	Response          string            `json:"response"`
	MessageType       string            `json:"message_type"`
	Classification    string            `json:"classification,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	AgentName         string            `json:"agent_name,omitempty"`
	AgentCompleted    bool              `json:"agent_completed"`
	QuickReplies      []QuickReply      `json:"quick_replies,omitempty"`
	RichCard          *RichCard         `json:"rich_card,omitempty"`
	ErrorReason       string            `json:"error_reason,omitempty"`
	OriginalTimestamp string            `json:"original_timestamp,omitempty"`
}

// StreamChunk is one streamed fragment of an in-flight assistant response.
type StreamChunk struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Done           bool   `json:"done,omitempty"`
}
