// Package bus defines the message types exchanged between the conversation
// actors. All values are treated as immutable once sent.
package bus

import (
	"time"

	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// UserMessage enters the pipeline for one turn.
type UserMessage struct {
	ConversationID string
	Text           string
	Timestamp      time.Time
}

// GuardVerdict is the moderation result for a user message.
// Violation is set iff Compliant is false.
type GuardVerdict struct {
	Compliant bool   `json:"compliant"`
	Violation string `json:"violation,omitempty"`
}

// Classification is the classifier output for a turn. Intent "other" is the
// reserved fallback meaning "no handler".
type Classification struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"-"`
}

// AgentResponse is the terminal output of one agent turn.
type AgentResponse struct {
	Text         string
	Completed    bool
	QuickReplies []protocol.QuickReply
	RichCard     *protocol.RichCard
}

// KeyValue is one ordered entry of a shared-context broadcast.
type KeyValue struct {
	Key   string
	Value any
}

// ContextUpdate fans shared variable writes out to sibling agents.
// Updates keep the order the source wrote them in.
type ContextUpdate struct {
	SourceIntent string
	Updates      []KeyValue
}
