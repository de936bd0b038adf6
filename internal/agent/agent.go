// Package agent implements the per-(intent, conversation) runtime: session
// lifecycle, the model tool loop, completion analysis, ephemeral artifact
// harvesting and best-effort persistence.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/morgana/internal/bus"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/session"
	"github.com/nextlevelbuilder/morgana/internal/store"
	"github.com/nextlevelbuilder/morgana/internal/telemetry"
	"github.com/nextlevelbuilder/morgana/internal/tools"
)

// Identifier builds the persistence key for one agent within one
// conversation. At most one live session and one persisted blob exist per
// identifier.
func Identifier(intent, conversationID string) string {
	return intent + "-" + conversationID
}

// Config assembles an agent. Everything is wired explicitly; construction
// never performs blocking I/O.
type Config struct {
	Intent         string
	DisplayName    string
	ConversationID string

	Client    llm.Client
	Registry  *tools.Registry // framework builtins + this intent's domain bundle
	Prompt    *prompt.Prompt  // the agent's own prompt
	Framework *prompt.Prompt  // framework policies, guidance and error templates
	Store     store.Store

	// Broadcast publishes one shared-context update per shared write.
	// Re-wired explicitly after deserialization; never serialized.
	Broadcast func(bus.ContextUpdate)

	Streaming         bool
	DebugSentinel     bool
	MaxToolIterations int
	MaxHistoryTurns   int
}

// Agent handles exactly one intent within one conversation.
type Agent struct {
	cfg       Config
	id        string
	toolDefs  []llm.ToolDef
	toolNames []string
	shared    []string
	sess      *session.Session
}

// New validates the declared tool surface and prepares the model tool list.
func New(cfg Config) (*Agent, error) {
	if cfg.Intent == "" || cfg.ConversationID == "" {
		return nil, fmt.Errorf("agent requires intent and conversation id")
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 20
	}

	// Merge framework tools with the agent's declared tools.
	names := append([]string(nil), tools.BuiltinNames()...)
	names = append(names, cfg.Prompt.Tools()...)

	// Validate declared definitions against the registered implementations.
	if declared := declaredTools(cfg.Prompt); len(declared) > 0 {
		if err := tools.ValidateDelegates(declared, cfg.Registry); err != nil {
			return nil, fmt.Errorf("agent %s: %w", cfg.Intent, err)
		}
	}

	defs, err := cfg.Registry.ProviderDefs(names,
		cfg.Framework.ToolParameterContextGuidance(),
		cfg.Framework.ToolParameterRequestGuidance())
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", cfg.Intent, err)
	}

	return &Agent{
		cfg:       cfg,
		id:        Identifier(cfg.Intent, cfg.ConversationID),
		toolDefs:  defs,
		toolNames: names,
		shared:    sharedNames(cfg.Registry, names),
	}, nil
}

// declaredTools decodes the full tool definitions a prompt declares, when
// present. A prompt may list names only (Tools); the definitions enable the
// stricter delegate checks.
func declaredTools(p *prompt.Prompt) []tools.Definition {
	raw, ok := p.Properties["ToolDefinitions"]
	if !ok {
		return nil
	}
	var defs []tools.Definition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil
	}
	return defs
}

// sharedNames derives the shared variable set from the agent's tool
// definitions: every context-scoped parameter flagged shared.
func sharedNames(reg *tools.Registry, names []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, name := range names {
		def, ok := reg.Get(name)
		if !ok {
			continue
		}
		for _, p := range def.Parameters {
			if p.Shared && p.Scope == tools.ScopeContext {
				if _, dup := seen[p.Name]; !dup {
					seen[p.Name] = struct{}{}
					out = append(out, p.Name)
				}
			}
		}
	}
	return out
}

// Intent returns the intent this agent handles.
func (a *Agent) Intent() string { return a.cfg.Intent }

// DisplayName returns the client-facing agent label.
func (a *Agent) DisplayName() string { return a.cfg.DisplayName }

// QueueMerge delivers an incoming shared-context update. Safe to call from
// the router goroutine; applied at the start of the next turn.
func (a *Agent) QueueMerge(u bus.ContextUpdate) {
	a.ensureSessionShell()
	a.sess.QueueMerge(u)
}

// ensureSessionShell creates an empty in-memory session so merges arriving
// before the first turn have somewhere to queue. Loading from persistence
// happens in ensureSession; queued merges survive it.
func (a *Agent) ensureSessionShell() {
	if a.sess == nil {
		a.sess = session.New(a.shared)
		a.applyReducer()
	}
}

func (a *Agent) applyReducer() {
	if a.cfg.MaxHistoryTurns > 0 {
		a.sess.SetReducer(session.LastNTurns(a.cfg.MaxHistoryTurns))
	}
}

// LoadSession eagerly loads the persisted session. Used by the router's
// restore path; returns false when no blob exists.
func (a *Agent) LoadSession(ctx context.Context) (bool, error) {
	blob, err := a.cfg.Store.Load(ctx, a.id)
	if err != nil {
		return false, err
	}
	if blob == nil {
		return false, nil
	}
	sess, err := session.FromBlob(blob)
	if err != nil {
		return false, err
	}
	sess.MarkLoaded()
	a.adoptSession(sess)
	return true, nil
}

// adoptSession swaps in a deserialized session, carrying over any merges
// queued against the shell and re-applying the reducer.
func (a *Agent) adoptSession(sess *session.Session) {
	if a.sess != nil {
		sess.AdoptPending(a.sess)
	}
	a.sess = sess
	a.applyReducer()
}

// ensureSession loads or creates the session for a turn.
func (a *Agent) ensureSession(ctx context.Context) error {
	if a.sess != nil && a.sess.Loaded() {
		return nil
	}
	blob, err := a.cfg.Store.Load(ctx, a.id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", a.id, err)
	}
	if blob == nil {
		a.ensureSessionShell()
		a.sess.MarkLoaded()
		return nil
	}
	sess, err := session.FromBlob(blob)
	if err != nil {
		return fmt.Errorf("restore session %s: %w", a.id, err)
	}
	sess.MarkLoaded()
	a.adoptSession(sess)
	return nil
}

// ExecuteTurn runs one full turn. It never returns an error to the caller:
// failures collapse into the configured error templates with the turn marked
// complete, per the recoverable-error policy.
func (a *Agent) ExecuteTurn(ctx context.Context, text string, onChunk func(string)) *bus.AgentResponse {
	ctx, span := telemetry.StartSpan(ctx, "agent.turn",
		"intent", a.cfg.Intent, "conversation_id", a.cfg.ConversationID)
	defer span.End()

	resp, err := a.executeTurn(ctx, text, onChunk)
	if err != nil {
		slog.Error("agent.turn.failed", "agent_id", a.id, "error", err)
		return &bus.AgentResponse{
			Text:      a.errorText(err),
			Completed: true,
		}
	}
	return resp
}

// errorText picks the client-facing template for a turn failure. Model
// failures use the service template with its ((llm_error)) placeholder
// substituted; everything else gets the generic template.
func (a *Agent) errorText(err error) string {
	var me *modelError
	if errors.As(err, &me) {
		return strings.ReplaceAll(a.cfg.Framework.LLMServiceError(), prompt.PlaceholderLLMError, me.cause.Error())
	}
	return a.cfg.Framework.GenericError()
}

func (a *Agent) executeTurn(ctx context.Context, text string, onChunk func(string)) (*bus.AgentResponse, error) {
	start := time.Now()

	if err := a.ensureSession(ctx); err != nil {
		return nil, err
	}

	if applied := a.sess.DrainMerges(); applied > 0 {
		slog.Debug("agent.merges.applied", "agent_id", a.id, "count", applied)
	}

	a.sess.Append("user", text)

	responseText, err := a.runLoop(ctx, onChunk)
	if err != nil {
		return nil, err
	}

	a.sess.Append("assistant", responseText)

	// Completion analysis runs on the raw text with the staged artifacts
	// still in place; harvesting drops them right after.
	rawQR, rawCard := a.peekEphemeral()
	completed := IsCompleted(responseText, rawQR, rawCard)
	qr, card := a.sess.HarvestEphemeral()

	a.persist(ctx)

	outText := responseText
	if !a.cfg.DebugSentinel {
		outText = StripSentinel(outText)
	}

	slog.Info("agent.turn.done",
		"agent_id", a.id,
		"completed", completed,
		"duration_ms", time.Since(start).Milliseconds())

	return &bus.AgentResponse{
		Text:         outText,
		Completed:    completed,
		QuickReplies: parseQuickReplies(qr),
		RichCard:     parseRichCard(card),
	}, nil
}

func (a *Agent) peekEphemeral() (string, string) {
	var qr, card string
	if v, ok := a.sess.Get(session.KeyQuickReplies); ok {
		qr, _ = v.(string)
	}
	if v, ok := a.sess.Get(session.KeyRichCard); ok {
		card, _ = v.(string)
	}
	return qr, card
}

// runLoop drives the model with tools until it produces a final text or the
// iteration cap is hit. Streaming chunks are forwarded in order.
func (a *Agent) runLoop(ctx context.Context, onChunk func(string)) (string, error) {
	inv := &tools.Invocation{
		ConversationID: a.cfg.ConversationID,
		Intent:         a.cfg.Intent,
		Session:        a.sess,
		OnSharedWrite:  a.onSharedWrite,
	}

	msgs := a.buildMessages()

	var chunkFn func(llm.StreamChunk)
	if a.cfg.Streaming && onChunk != nil {
		firstChunk := true
		turnStart := time.Now()
		chunkFn = func(c llm.StreamChunk) {
			if c.Done || c.Content == "" {
				return
			}
			if firstChunk {
				firstChunk = false
				slog.Debug("agent.stream.first_chunk", "agent_id", a.id,
					"ttfc_ms", time.Since(turnStart).Milliseconds())
			}
			onChunk(c.Content)
		}
	}

	for iter := 0; iter < a.cfg.MaxToolIterations; iter++ {
		llmCtx, llmSpan := telemetry.StartSpan(ctx, "llm.run", "agent_id", a.id)
		res, err := a.cfg.Client.Run(llmCtx, msgs, a.toolDefs, chunkFn)
		llmSpan.End()
		if err != nil {
			return "", &modelError{cause: err}
		}

		if len(res.ToolCalls) == 0 {
			return res.Text, nil
		}

		msgs = append(msgs, llm.Message{
			Role:      "assistant",
			Content:   res.Text,
			ToolCalls: res.ToolCalls,
		})

		for _, call := range res.ToolCalls {
			toolCtx, toolSpan := telemetry.StartSpan(ctx, "tool.execute", "tool", call.Name)
			result := a.cfg.Registry.Execute(toolCtx, call.Name, inv, call.Arguments)
			toolSpan.End()

			if result.IsError {
				slog.Warn("agent.tool.error", "agent_id", a.id, "tool", call.Name, "error", result.Err)
			}
			msgs = append(msgs, llm.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}
	}

	return "", fmt.Errorf("tool iteration limit reached (%d)", a.cfg.MaxToolIterations)
}

func (a *Agent) onSharedWrite(key string, value any) {
	if a.cfg.Broadcast == nil {
		return
	}
	a.cfg.Broadcast(bus.ContextUpdate{
		SourceIntent: a.cfg.Intent,
		Updates:      []bus.KeyValue{{Key: key, Value: value}},
	})
}

// buildMessages assembles the model input: the system prompt followed by
// the reduced history view.
func (a *Agent) buildMessages() []llm.Message {
	var sys strings.Builder
	sys.WriteString(a.cfg.Prompt.Instructions)
	if p := a.cfg.Prompt.Personality; p != "" {
		sys.WriteString("\n\n")
		sys.WriteString(p)
	}
	if g := a.cfg.Framework.GlobalPolicies(); g != "" {
		sys.WriteString("\n\n")
		sys.WriteString(g)
	}

	history := a.sess.HistoryView()
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: sys.String()})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// persist saves the session best-effort: a failure is logged and the turn's
// response still goes out.
func (a *Agent) persist(ctx context.Context) {
	blob, err := a.sess.MarshalBlob()
	if err != nil {
		slog.Warn("agent.persist.marshal_failed", "agent_id", a.id, "error", err)
		return
	}
	_, span := telemetry.StartSpan(ctx, "session.persist", "agent_id", a.id)
	defer span.End()
	if err := a.cfg.Store.Save(ctx, a.id, blob); err != nil {
		slog.Warn("agent.persist.failed", "agent_id", a.id, "error", err)
	}
}

// modelError marks failures of the model call itself.
type modelError struct {
	cause error
}

func (e *modelError) Error() string { return e.cause.Error() }
func (e *modelError) Unwrap() error { return e.cause }
