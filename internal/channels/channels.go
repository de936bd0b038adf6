// Package channels fans conversation output out to the configured push
// channels: the websocket hub and any enabled external adapters.
package channels

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// Channel is one outbound push destination. Chunk delivery is optional;
// adapters that cannot stream just ignore chunks.
type Channel interface {
	Name() string
	SendStructured(ctx context.Context, conversationID string, resp *protocol.ConversationResponse) error
	SendChunk(ctx context.Context, conversationID string, chunk protocol.StreamChunk) error
}

// Manager multiplexes pushes across all registered channels. It satisfies
// the supervisor's push contract; delivery is best-effort per channel.
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
}

func NewManager() *Manager {
	return &Manager{}
}

// Register adds a channel. Called during startup wiring only.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	m.channels = append(m.channels, ch)
	m.mu.Unlock()
	slog.Info("channel.registered", "channel", ch.Name())
}

// PushMessage delivers a structured response to every channel.
func (m *Manager) PushMessage(ctx context.Context, conversationID string, resp *protocol.ConversationResponse) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if err := ch.SendStructured(ctx, conversationID, resp); err != nil {
			slog.Warn("channel.push_failed",
				"channel", ch.Name(),
				"conversation_id", conversationID,
				"error", err)
		}
	}
}

// PushChunk delivers a streaming fragment to every channel.
func (m *Manager) PushChunk(ctx context.Context, conversationID string, chunk protocol.StreamChunk) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if err := ch.SendChunk(ctx, conversationID, chunk); err != nil {
			slog.Warn("channel.chunk_failed",
				"channel", ch.Name(),
				"conversation_id", conversationID,
				"error", err)
		}
	}
}

// SendPlain pushes bare text as a system message to every channel.
func (m *Manager) SendPlain(ctx context.Context, conversationID, text, errorReason string) {
	msgType := protocol.MessageSystem
	if errorReason != "" {
		msgType = protocol.MessageError
	}
	m.PushMessage(ctx, conversationID, &protocol.ConversationResponse{
		Response:       text,
		MessageType:    msgType,
		AgentName:      "Morgana",
		AgentCompleted: true,
		ErrorReason:    errorReason,
	})
}
