package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/morgana/internal/agent"
	"github.com/nextlevelbuilder/morgana/internal/bus"
	"github.com/nextlevelbuilder/morgana/internal/intent"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/store"
	"github.com/nextlevelbuilder/morgana/internal/telemetry"
	"github.com/nextlevelbuilder/morgana/internal/tools"
)

// RouterConfig wires one router for one conversation.
type RouterConfig struct {
	ConversationID string

	Client      llm.Client
	Prompts     prompt.Store
	Intents     *intent.Registry
	Agents      *intent.AgentRegistry
	ToolBundles *intent.ToolRegistry
	Store       store.Store

	Streaming         bool
	DebugSentinel     bool
	MaxToolIterations int
	MaxHistoryTurns   int
	DispatchTimeout   time.Duration // default 60s
}

// Router dispatches routed requests to agents, creates agents lazily on
// first reference, and fans shared-context updates out to siblings.
type Router struct {
	cfg       RouterConfig
	framework *prompt.Prompt

	mu   sync.Mutex
	live map[string]*agent.Agent
}

// DispatchResult is what one routed turn produced. Agent is nil when the
// router synthesized the response itself (missing or unroutable intent).
type DispatchResult struct {
	Response *bus.AgentResponse
	Agent    *agent.Agent
	Intent   string
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 60 * time.Second
	}
	fw, err := cfg.Prompts.Resolve(prompt.IDFramework)
	if err != nil {
		// Accessor defaults cover every template; a missing framework
		// prompt only loses custom wording.
		slog.Debug("router.framework_prompt_missing", "conversation_id", cfg.ConversationID, "error", err)
		fw = &prompt.Prompt{Target: prompt.IDFramework}
	}
	return &Router{
		cfg:       cfg,
		framework: fw,
		live:      make(map[string]*agent.Agent),
	}
}

// Dispatch routes one classified request. A nil classification or an intent
// with no bound agent yields a synthesized terminal response; the supervisor
// treats it like any other.
func (r *Router) Dispatch(ctx context.Context, text string, cls *bus.Classification, onChunk func(string)) DispatchResult {
	if cls == nil {
		return DispatchResult{Response: r.synthesized(r.framework.MissingClassificationError())}
	}

	name := intent.Normalize(cls.Intent)
	if _, ok := r.cfg.Agents.Resolve(name); !ok {
		slog.Info("router.unroutable", "conversation_id", r.cfg.ConversationID, "intent", name)
		return DispatchResult{
			Response: r.synthesized(r.framework.UnrecognizedIntentError()),
			Intent:   name,
		}
	}

	ag, err := r.agentFor(name)
	if err != nil {
		slog.Error("router.agent_create_failed", "conversation_id", r.cfg.ConversationID, "intent", name, "error", err)
		return DispatchResult{
			Response: r.synthesized(r.framework.GenericError()),
			Intent:   name,
		}
	}

	return DispatchResult{
		Response: r.DispatchTo(ctx, ag, text, onChunk),
		Agent:    ag,
		Intent:   name,
	}
}

// DispatchTo runs one turn on a known agent under the dispatch deadline.
// Used directly by the supervisor for sticky follow-ups.
func (r *Router) DispatchTo(ctx context.Context, ag *agent.Agent, text string, onChunk func(string)) *bus.AgentResponse {
	ctx, span := telemetry.StartSpan(ctx, "router.dispatch",
		"conversation_id", r.cfg.ConversationID, "intent", ag.Intent())
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
	defer cancel()
	return ag.ExecuteTurn(ctx, text, onChunk)
}

func (r *Router) synthesized(text string) *bus.AgentResponse {
	return &bus.AgentResponse{Text: text, Completed: true}
}

// Broadcast fans one shared-context update out to every registered agent
// except the source. Fire-and-forget; recipients apply it at the start of
// their next turn. Agents that do not exist yet are materialized so the
// update is waiting when they first run.
func (r *Router) Broadcast(u bus.ContextUpdate) {
	source := intent.Normalize(u.SourceIntent)
	delivered := 0
	for _, name := range r.cfg.Agents.Intents() {
		if name == source {
			continue
		}
		ag, err := r.agentFor(name)
		if err != nil {
			slog.Warn("router.broadcast.skip", "conversation_id", r.cfg.ConversationID, "intent", name, "error", err)
			continue
		}
		ag.QueueMerge(u)
		delivered++
	}
	slog.Debug("router.broadcast",
		"conversation_id", r.cfg.ConversationID,
		"source", source,
		"recipients", delivered)
}

// RestoreAgent rebinds a sticky agent by intent on supervisor resume. Nil
// means the agent cannot be rebuilt (no persisted session); the supervisor
// clears sticky state in that case.
func (r *Router) RestoreAgent(ctx context.Context, intentName string) *agent.Agent {
	ag, err := r.agentFor(intent.Normalize(intentName))
	if err != nil {
		slog.Warn("router.restore_failed", "conversation_id", r.cfg.ConversationID, "intent", intentName, "error", err)
		return nil
	}
	ok, err := ag.LoadSession(ctx)
	if err != nil || !ok {
		slog.Info("router.restore_empty", "conversation_id", r.cfg.ConversationID, "intent", intentName, "error", err)
		return nil
	}
	return ag
}

// agentFor returns the live agent for an intent, creating it on first
// reference. Construction is pure wiring; no I/O happens here.
func (r *Router) agentFor(name string) (*agent.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ag, ok := r.live[name]; ok {
		return ag, nil
	}

	desc, ok := r.cfg.Agents.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("no agent registered for intent %q", name)
	}
	agentPrompt, err := r.cfg.Prompts.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("agent prompt for %q: %w", name, err)
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	if bundle, ok := r.cfg.ToolBundles.Resolve(name); ok {
		for _, def := range bundle.Tools {
			if err := reg.Register(def, bundle.Handlers[def.Name]); err != nil {
				return nil, fmt.Errorf("domain tools for %q: %w", name, err)
			}
		}
	}

	ag, err := agent.New(agent.Config{
		Intent:            name,
		DisplayName:       desc.DisplayName,
		ConversationID:    r.cfg.ConversationID,
		Client:            r.cfg.Client,
		Registry:          reg,
		Prompt:            agentPrompt,
		Framework:         r.framework,
		Store:             r.cfg.Store,
		Broadcast:         r.Broadcast,
		Streaming:         r.cfg.Streaming,
		DebugSentinel:     r.cfg.DebugSentinel,
		MaxToolIterations: r.cfg.MaxToolIterations,
		MaxHistoryTurns:   r.cfg.MaxHistoryTurns,
	})
	if err != nil {
		return nil, err
	}

	r.live[name] = ag
	slog.Debug("router.agent_created", "conversation_id", r.cfg.ConversationID, "intent", name)
	return ag, nil
}
