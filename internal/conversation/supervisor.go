package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/morgana/internal/agent"
	"github.com/nextlevelbuilder/morgana/internal/bus"
	"github.com/nextlevelbuilder/morgana/internal/intent"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/store"
	"github.com/nextlevelbuilder/morgana/internal/telemetry"
	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// State is the supervisor FSM state over one turn.
type State int

const (
	StateIdle State = iota
	StateAwaitingGuard
	StateAwaitingClassification
	StateAwaitingAgent
	StateAwaitingFollowUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingGuard:
		return "awaiting_guard"
	case StateAwaitingClassification:
		return "awaiting_classification"
	case StateAwaitingAgent:
		return "awaiting_agent"
	case StateAwaitingFollowUp:
		return "awaiting_follow_up"
	default:
		return "unknown"
	}
}

// timeoutMessage is the fixed text pushed when an agent misses its deadline.
const timeoutMessage = "The assistant took too long to respond. Please try again."

// Pusher is the outbound push channel the supervisor talks to.
type Pusher interface {
	PushMessage(ctx context.Context, conversationID string, resp *protocol.ConversationResponse)
	PushChunk(ctx context.Context, conversationID string, chunk protocol.StreamChunk)
}

// SupervisorConfig wires one supervisor.
type SupervisorConfig struct {
	ConversationID string

	Guard      *Guard
	Classifier *Classifier
	Router     *Router
	Push       Pusher
	Client     llm.Client
	Prompts    prompt.Store
	Intents    *intent.Registry
	Store      store.Store

	AgentTimeout time.Duration // default 90s, reset on each stream chunk
	MailboxSize  int           // default 16
}

// supervisorState is the small blob persisted under the reserved supervisor
// identifier so sticky routing survives restarts.
type supervisorState struct {
	StickyIntent string `json:"sticky_intent,omitempty"`
}

// Supervisor owns turn processing for one conversation: it serializes turns,
// drives the guard/classify/route pipeline and applies the sticky policy.
type Supervisor struct {
	cfg     SupervisorConfig
	mailbox chan any
	done    chan struct{}
	stopOne sync.Once

	// Owned by the run goroutine.
	state            State
	sticky           *agent.Agent
	stickyIntent     string
	presentationDone bool
	resumed          bool

	mu           sync.Mutex
	lastActivity time.Time
	busy         bool
}

type userTurn struct{ msg bus.UserMessage }

type presentTrigger struct{}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 90 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 16
	}
	return &Supervisor{
		cfg:          cfg,
		mailbox:      make(chan any, cfg.MailboxSize),
		done:         make(chan struct{}),
		state:        StateIdle,
		lastActivity: time.Now(),
	}
}

// Start launches the mailbox goroutine.
func (s *Supervisor) Start() {
	go s.run()
}

// Stop terminates the subtree. In-flight I/O is abandoned; its eventual
// reply is discarded.
func (s *Supervisor) Stop() {
	s.stopOne.Do(func() { close(s.done) })
}

// Enqueue hands a user message to the supervisor. Returns false when the
// mailbox is full or the supervisor is stopped.
func (s *Supervisor) Enqueue(msg bus.UserMessage) bool {
	s.touch()
	select {
	case <-s.done:
		return false
	case s.mailbox <- userTurn{msg: msg}:
		return true
	default:
		slog.Warn("supervisor.mailbox_full", "conversation_id", s.cfg.ConversationID)
		return false
	}
}

// TriggerPresentation requests the one-shot presentation message. Only the
// first trigger takes effect.
func (s *Supervisor) TriggerPresentation() {
	s.touch()
	select {
	case <-s.done:
	case s.mailbox <- presentTrigger{}:
	default:
	}
}

// IdleSince reports how long the supervisor has been without activity.
// A supervisor mid-turn is never idle.
func (s *Supervisor) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return 0
	}
	return time.Since(s.lastActivity)
}

func (s *Supervisor) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) setBusy(b bool) {
	s.mu.Lock()
	s.busy = b
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) run() {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.mailbox:
			s.setBusy(true)
			switch m := m.(type) {
			case userTurn:
				s.handleTurn(m.msg)
			case presentTrigger:
				s.handlePresentation()
			}
			s.setBusy(false)
		}
	}
}

func (s *Supervisor) transition(to State) {
	slog.Debug("supervisor.state",
		"conversation_id", s.cfg.ConversationID,
		"from", s.state.String(),
		"to", to.String())
	s.state = to
}

// handleTurn drives one full turn: guard, then either the sticky agent or
// classify-and-route, then response assembly and sticky bookkeeping.
func (s *Supervisor) handleTurn(msg bus.UserMessage) {
	ctx, span := telemetry.StartSpan(context.Background(), "conversation.turn",
		"conversation_id", s.cfg.ConversationID)
	defer span.End()

	s.resumeOnce(ctx)

	s.transition(StateAwaitingGuard)
	verdict := s.cfg.Guard.Check(ctx, s.cfg.ConversationID, msg.Text)
	if !verdict.Compliant {
		s.pushGuardAnswer(ctx, msg, verdict)
		s.transition(StateIdle)
		return
	}

	if s.sticky != nil {
		s.followUpTurn(ctx, msg)
		return
	}
	s.classifiedTurn(ctx, msg)
}

// followUpTurn routes directly to the sticky agent, bypassing the classifier.
func (s *Supervisor) followUpTurn(ctx context.Context, msg bus.UserMessage) {
	s.transition(StateAwaitingFollowUp)

	ag := s.sticky
	resp, timedOut := s.runAgent(ctx, ag, msg)
	if timedOut {
		s.agentTimeout(ctx, msg)
		return
	}

	s.finishTurn(ctx, msg, resp, ag, ag.Intent(), nil)
}

// classifiedTurn classifies the message and routes through the router.
func (s *Supervisor) classifiedTurn(ctx context.Context, msg bus.UserMessage) {
	s.transition(StateAwaitingClassification)
	cls := s.cfg.Classifier.Classify(ctx, s.cfg.ConversationID, msg.Text)

	s.transition(StateAwaitingAgent)
	result, timedOut := s.runDispatch(ctx, msg, &cls)
	if timedOut {
		s.agentTimeout(ctx, msg)
		return
	}

	s.finishTurn(ctx, msg, result.Response, result.Agent, cls.Intent, cls.Metadata)
}

// runAgent executes a sticky follow-up under the chunk-reset deadline.
func (s *Supervisor) runAgent(ctx context.Context, ag *agent.Agent, msg bus.UserMessage) (*bus.AgentResponse, bool) {
	var resp *bus.AgentResponse
	timedOut := s.withDeadline(ctx, func(runCtx context.Context, onChunk func(string)) {
		resp = s.cfg.Router.DispatchTo(runCtx, ag, msg.Text, onChunk)
	})
	return resp, timedOut
}

// runDispatch executes a routed turn under the chunk-reset deadline.
func (s *Supervisor) runDispatch(ctx context.Context, msg bus.UserMessage, cls *bus.Classification) (DispatchResult, bool) {
	var result DispatchResult
	timedOut := s.withDeadline(ctx, func(runCtx context.Context, onChunk func(string)) {
		result = s.cfg.Router.Dispatch(runCtx, msg.Text, cls, onChunk)
	})
	return result, timedOut
}

// withDeadline runs fn in a goroutine, forwarding stream chunks in order and
// resetting the agent deadline on each one. Returns true on timeout; the
// abandoned work is cancelled and its eventual result discarded.
func (s *Supervisor) withDeadline(ctx context.Context, fn func(ctx context.Context, onChunk func(string))) bool {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan string)
	doneCh := make(chan struct{})
	go func() {
		fn(runCtx, func(c string) {
			select {
			case chunks <- c:
			case <-runCtx.Done():
			}
		})
		close(doneCh)
	}()

	timer := time.NewTimer(s.cfg.AgentTimeout)
	defer timer.Stop()

	for {
		select {
		case c := <-chunks:
			s.cfg.Push.PushChunk(ctx, s.cfg.ConversationID, protocol.StreamChunk{
				ConversationID: s.cfg.ConversationID,
				Content:        c,
			})
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.cfg.AgentTimeout)
		case <-doneCh:
			return false
		case <-timer.C:
			cancel()
			return true
		}
	}
}

// agentTimeout pushes the fixed timeout message, clears sticky and returns
// to idle.
func (s *Supervisor) agentTimeout(ctx context.Context, msg bus.UserMessage) {
	slog.Warn("supervisor.agent_timeout",
		"conversation_id", s.cfg.ConversationID,
		"state", s.state.String())
	s.cfg.Push.PushMessage(ctx, s.cfg.ConversationID, &protocol.ConversationResponse{
		Response:          timeoutMessage,
		MessageType:       protocol.MessageError,
		AgentName:         "Morgana",
		AgentCompleted:    true,
		ErrorReason:       "agent_timeout",
		OriginalTimestamp: msg.Timestamp.UTC().Format(time.RFC3339),
	})
	s.setSticky(ctx, nil, "")
	s.transition(StateIdle)
}

// finishTurn assembles the outward response, applies the sticky policy and
// returns to idle.
func (s *Supervisor) finishTurn(ctx context.Context, msg bus.UserMessage, resp *bus.AgentResponse, ag *agent.Agent, classified string, metadata map[string]string) {
	agentName := "Morgana"
	if ag != nil {
		agentName = "Morgana (" + ag.DisplayName() + ")"
	}

	out := &protocol.ConversationResponse{
		Response:          resp.Text,
		MessageType:       protocol.MessageAssistant,
		Classification:    classified,
		Metadata:          metadata,
		AgentName:         agentName,
		AgentCompleted:    resp.Completed,
		QuickReplies:      resp.QuickReplies,
		RichCard:          resp.RichCard,
		OriginalTimestamp: msg.Timestamp.UTC().Format(time.RFC3339),
	}
	s.cfg.Push.PushMessage(ctx, s.cfg.ConversationID, out)

	if !resp.Completed && ag != nil {
		s.setSticky(ctx, ag, ag.Intent())
	} else {
		s.setSticky(ctx, nil, "")
	}
	s.transition(StateIdle)
}

func (s *Supervisor) pushGuardAnswer(ctx context.Context, msg bus.UserMessage, verdict bus.GuardVerdict) {
	text := strings.ReplaceAll(s.cfg.Router.framework.GuardAnswer(), prompt.PlaceholderViolation, verdict.Violation)
	s.cfg.Push.PushMessage(ctx, s.cfg.ConversationID, &protocol.ConversationResponse{
		Response:          text,
		MessageType:       protocol.MessageSystem,
		AgentName:         "Morgana",
		AgentCompleted:    true,
		OriginalTimestamp: msg.Timestamp.UTC().Format(time.RFC3339),
	})
}

// setSticky records the sticky agent and persists the supervisor blob so a
// restart can rebind it.
func (s *Supervisor) setSticky(ctx context.Context, ag *agent.Agent, intentName string) {
	s.sticky = ag
	s.stickyIntent = intentName

	blob, err := json.Marshal(supervisorState{StickyIntent: intentName})
	if err != nil {
		return
	}
	if err := s.cfg.Store.Save(ctx, s.stateID(), blob); err != nil {
		slog.Warn("supervisor.state_persist_failed", "conversation_id", s.cfg.ConversationID, "error", err)
	}
}

func (s *Supervisor) stateID() string {
	return "_supervisor-" + s.cfg.ConversationID
}

// resumeOnce rebinds a persisted sticky intent through the router on the
// first turn after a restart. An agent that cannot be rebuilt clears sticky.
func (s *Supervisor) resumeOnce(ctx context.Context) {
	if s.resumed {
		return
	}
	s.resumed = true

	blob, err := s.cfg.Store.Load(ctx, s.stateID())
	if err != nil || blob == nil {
		return
	}
	var st supervisorState
	if err := json.Unmarshal(blob, &st); err != nil || st.StickyIntent == "" {
		return
	}

	ag := s.cfg.Router.RestoreAgent(ctx, st.StickyIntent)
	if ag == nil {
		s.setSticky(ctx, nil, "")
		return
	}
	s.sticky = ag
	s.stickyIntent = ag.Intent()
	slog.Info("supervisor.resumed",
		"conversation_id", s.cfg.ConversationID,
		"sticky_intent", s.stickyIntent)
}

// handlePresentation produces the one-shot conversation opener: a message
// plus quick replies from the presentation prompt, with a deterministic
// fallback synthesized from the intent registry.
func (s *Supervisor) handlePresentation() {
	if s.presentationDone {
		return
	}
	s.presentationDone = true

	ctx, span := telemetry.StartSpan(context.Background(), "conversation.presentation",
		"conversation_id", s.cfg.ConversationID)
	defer span.End()

	message, replies := s.generatePresentation(ctx)
	s.cfg.Push.PushMessage(ctx, s.cfg.ConversationID, &protocol.ConversationResponse{
		Response:       message,
		MessageType:    protocol.MessagePresentation,
		AgentName:      "Morgana",
		AgentCompleted: false,
		QuickReplies:   replies,
	})
}

func (s *Supervisor) generatePresentation(ctx context.Context) (string, []protocol.QuickReply) {
	p, err := s.cfg.Prompts.Resolve(prompt.IDPresentation)
	if err != nil {
		return s.fallbackPresentation(&prompt.Prompt{Target: prompt.IDPresentation})
	}

	raw, err := s.cfg.Client.Complete(ctx, p.Instructions, s.displayableIntents(), s.cfg.ConversationID)
	if err != nil {
		slog.Warn("supervisor.presentation_fallback", "conversation_id", s.cfg.ConversationID, "error", err)
		return s.fallbackPresentation(p)
	}

	var out struct {
		Message      string                `json:"message"`
		QuickReplies []protocol.QuickReply `json:"quickReplies"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &out); err != nil || out.Message == "" {
		slog.Warn("supervisor.presentation_fallback", "conversation_id", s.cfg.ConversationID, "error", err)
		return s.fallbackPresentation(p)
	}
	return out.Message, out.QuickReplies
}

// fallbackPresentation synthesizes a deterministic opener from the intent
// registry when the model path fails.
func (s *Supervisor) fallbackPresentation(p *prompt.Prompt) (string, []protocol.QuickReply) {
	defs := s.cfg.Intents.List()
	labels := make([]string, 0, len(defs))
	replies := make([]protocol.QuickReply, 0, len(defs))
	for _, def := range defs {
		labels = append(labels, def.DisplayLabel())
		value := def.DefaultValue
		if value == "" {
			value = def.Name
		}
		replies = append(replies, protocol.QuickReply{
			ID:    def.Name,
			Label: def.DisplayLabel(),
			Value: value,
		})
	}
	message := strings.ReplaceAll(p.FallbackMessage(), prompt.PlaceholderIntents, strings.Join(labels, ", "))
	return message, replies
}

func (s *Supervisor) displayableIntents() string {
	var b strings.Builder
	for _, def := range s.cfg.Intents.List() {
		b.WriteString("- ")
		b.WriteString(def.DisplayLabel())
		if def.Description != "" {
			b.WriteString(": ")
			b.WriteString(def.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
