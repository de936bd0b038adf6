package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/morgana/internal/bus"
	"github.com/nextlevelbuilder/morgana/internal/config"
	"github.com/nextlevelbuilder/morgana/internal/intent"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/ratelimit"
	"github.com/nextlevelbuilder/morgana/internal/store"
	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// ManagerConfig wires the process-global conversation manager.
type ManagerConfig struct {
	Config *config.Config

	Client      llm.Client
	Prompts     prompt.Store
	Intents     *intent.Registry
	Agents      *intent.AgentRegistry
	ToolBundles *intent.ToolRegistry
	Store       store.Store
	Push        Pusher
	Limiter     *ratelimit.Limiter // nil disables rate interception
}

// Manager owns the set of live conversations. It intercepts rate-limit
// violations before the supervisor ever sees the message and tears idle
// conversations down.
type Manager struct {
	cfg ManagerConfig

	mu          sync.Mutex
	supervisors map[string]*Supervisor
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:         cfg,
		supervisors: make(map[string]*Supervisor),
	}
}

// CreateConversation starts a conversation and fires the one-shot
// presentation trigger. An empty id gets a generated one.
func (m *Manager) CreateConversation(conversationID string) string {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	sup := m.supervisorFor(conversationID)
	sup.TriggerPresentation()
	slog.Info("conversation.created", "conversation_id", conversationID)
	return conversationID
}

// HandleMessage feeds one user message into the pipeline. Rate-limit
// violations are answered directly with the configured window message; the
// supervisor is not involved.
func (m *Manager) HandleMessage(ctx context.Context, conversationID, text string) bool {
	if m.cfg.Limiter != nil {
		res := m.cfg.Limiter.CheckAndRecord(conversationID)
		if !res.Allowed {
			slog.Info("conversation.rate_limited",
				"conversation_id", conversationID,
				"window", res.ViolatedWindow,
				"retry_after", res.RetryAfter)
			m.cfg.Push.PushMessage(ctx, conversationID, &protocol.ConversationResponse{
				Response:       m.rateLimitMessage(res.ViolatedWindow),
				MessageType:    protocol.MessageError,
				AgentName:      "Morgana",
				AgentCompleted: true,
				ErrorReason:    "rate_limited",
			})
			return false
		}
	}

	sup := m.supervisorFor(conversationID)
	return sup.Enqueue(bus.UserMessage{
		ConversationID: conversationID,
		Text:           text,
		Timestamp:      time.Now().UTC(),
	})
}

// Terminate stops a conversation subtree explicitly.
func (m *Manager) Terminate(conversationID string) {
	m.mu.Lock()
	sup, ok := m.supervisors[conversationID]
	if ok {
		delete(m.supervisors, conversationID)
	}
	m.mu.Unlock()

	if ok {
		sup.Stop()
		if m.cfg.Limiter != nil {
			m.cfg.Limiter.Forget(conversationID)
		}
		slog.Info("conversation.terminated", "conversation_id", conversationID)
	}
}

// SweepIdle stops conversations without activity for longer than maxIdle.
// Returns the number of conversations removed.
func (m *Manager) SweepIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	var stale []string
	for id, sup := range m.supervisors {
		if sup.IdleSince() > maxIdle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Terminate(id)
	}
	if len(stale) > 0 {
		slog.Info("conversation.sweep", "removed", len(stale))
	}
	return len(stale)
}

// Active reports the number of live conversations.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.supervisors)
}

// Shutdown stops every conversation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sups := make([]*Supervisor, 0, len(m.supervisors))
	for _, sup := range m.supervisors {
		sups = append(sups, sup)
	}
	m.supervisors = make(map[string]*Supervisor)
	m.mu.Unlock()

	for _, sup := range sups {
		sup.Stop()
	}
}

func (m *Manager) supervisorFor(conversationID string) *Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sup, ok := m.supervisors[conversationID]; ok {
		return sup
	}

	cfg := m.cfg.Config
	router := NewRouter(RouterConfig{
		ConversationID:    conversationID,
		Client:            m.cfg.Client,
		Prompts:           m.cfg.Prompts,
		Intents:           m.cfg.Intents,
		Agents:            m.cfg.Agents,
		ToolBundles:       m.cfg.ToolBundles,
		Store:             m.cfg.Store,
		Streaming:         cfg.StreamingEnabled(),
		DebugSentinel:     cfg.Conversation.DebugSentinel,
		MaxToolIterations: cfg.Conversation.MaxToolIterations,
		MaxHistoryTurns:   cfg.Conversation.MaxHistoryTurns,
		DispatchTimeout:   time.Duration(cfg.Conversation.DispatchTimeoutSec) * time.Second,
	})

	sup := NewSupervisor(SupervisorConfig{
		ConversationID: conversationID,
		Guard:          NewGuard(m.cfg.Client, m.cfg.Prompts),
		Classifier:     NewClassifier(m.cfg.Client, m.cfg.Prompts, m.cfg.Intents),
		Router:         router,
		Push:           m.cfg.Push,
		Client:         m.cfg.Client,
		Prompts:        m.cfg.Prompts,
		Intents:        m.cfg.Intents,
		Store:          m.cfg.Store,
		AgentTimeout:   time.Duration(cfg.Conversation.AgentTimeoutSec) * time.Second,
	})
	sup.Start()
	m.supervisors[conversationID] = sup
	return sup
}

func (m *Manager) rateLimitMessage(window string) string {
	rl := m.cfg.Config.RateLimiting
	switch window {
	case ratelimit.WindowMinute:
		if rl.ErrorMessageMinute != "" {
			return rl.ErrorMessageMinute
		}
		return "You are sending messages too quickly. Please wait a minute and try again."
	case ratelimit.WindowHour:
		if rl.ErrorMessageHour != "" {
			return rl.ErrorMessageHour
		}
		return "You have reached the hourly message limit. Please try again later."
	default:
		if rl.ErrorMessageDay != "" {
			return rl.ErrorMessageDay
		}
		return "You have reached the daily message limit. Please come back tomorrow."
	}
}
