package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/morgana/internal/config"
	"github.com/nextlevelbuilder/morgana/internal/intent"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/ratelimit"
	"github.com/nextlevelbuilder/morgana/internal/store"
	"github.com/nextlevelbuilder/morgana/internal/tools"
	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// Prompt markers let the scripted client tell the pipeline stages apart.
const (
	guardMarker    = "GUARD-PROMPT"
	classifyMarker = "CLASSIFY-PROMPT"
	presentMarker  = "PRESENT-PROMPT"
	billingMarker  = "BILLING-PROMPT"
	contractMarker = "CONTRACT-PROMPT"
)

// scriptClient routes Complete and Run calls to per-stage functions based on
// the system prompt marker.
type scriptClient struct {
	env *env
}

func (c *scriptClient) Name() string { return "script" }

func (c *scriptClient) Complete(_ context.Context, system, user, _ string) (string, error) {
	switch {
	case strings.Contains(system, guardMarker):
		return c.env.guardFn(user)
	case strings.Contains(system, classifyMarker):
		c.env.classifyCalls.Add(1)
		return c.env.classifyFn(user)
	case strings.Contains(system, presentMarker):
		return c.env.presentFn()
	}
	return "", errors.New("unexpected Complete call")
}

func (c *scriptClient) Run(ctx context.Context, msgs []llm.Message, _ []llm.ToolDef, onChunk func(llm.StreamChunk)) (*llm.Result, error) {
	system := msgs[0].Content
	switch {
	case strings.Contains(system, billingMarker):
		return c.env.billingRun(ctx, msgs, onChunk)
	case strings.Contains(system, contractMarker):
		return c.env.contractRun(ctx, msgs, onChunk)
	}
	return nil, errors.New("unexpected Run call")
}

// capturePush collects pushed messages and chunks for assertions.
type capturePush struct {
	mu       sync.Mutex
	chunks   []protocol.StreamChunk
	messages chan *protocol.ConversationResponse
}

func newCapturePush() *capturePush {
	return &capturePush{messages: make(chan *protocol.ConversationResponse, 32)}
}

func (p *capturePush) PushMessage(_ context.Context, _ string, resp *protocol.ConversationResponse) {
	p.messages <- resp
}

func (p *capturePush) PushChunk(_ context.Context, _ string, chunk protocol.StreamChunk) {
	p.mu.Lock()
	p.chunks = append(p.chunks, chunk)
	p.mu.Unlock()
}

func (p *capturePush) wait(t *testing.T) *protocol.ConversationResponse {
	t.Helper()
	select {
	case resp := <-p.messages:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pushed message")
		return nil
	}
}

func (p *capturePush) expectNone(t *testing.T) {
	t.Helper()
	select {
	case resp := <-p.messages:
		t.Fatalf("unexpected push: %+v", resp)
	case <-time.After(150 * time.Millisecond):
	}
}

type env struct {
	client *scriptClient
	push   *capturePush
	store  *store.MemStore
	mgr    *Manager

	classifyCalls atomic.Int32

	guardFn     func(user string) (string, error)
	classifyFn  func(user string) (string, error)
	presentFn   func() (string, error)
	billingRun  func(ctx context.Context, msgs []llm.Message, onChunk func(llm.StreamChunk)) (*llm.Result, error)
	contractRun func(ctx context.Context, msgs []llm.Message, onChunk func(llm.StreamChunk)) (*llm.Result, error)
}

func newEnv(t *testing.T) *env {
	return newEnvWith(t, store.NewMemStore(), nil)
}

func newEnvWith(t *testing.T, st *store.MemStore, limiter *ratelimit.Limiter) *env {
	t.Helper()

	e := &env{push: newCapturePush(), store: st}
	e.client = &scriptClient{env: e}
	e.guardFn = func(string) (string, error) { return `{"compliant": true}`, nil }
	e.classifyFn = func(string) (string, error) { return `{"intent":"billing","confidence":0.9}`, nil }
	e.presentFn = func() (string, error) {
		return `{"message":"Welcome!","quickReplies":[{"id":"billing","label":"Billing","value":"billing"}]}`, nil
	}
	e.billingRun = func(context.Context, []llm.Message, func(llm.StreamChunk)) (*llm.Result, error) {
		return &llm.Result{Text: "ok"}, nil
	}
	e.contractRun = func(context.Context, []llm.Message, func(llm.StreamChunk)) (*llm.Result, error) {
		return &llm.Result{Text: "ok"}, nil
	}

	intents := intent.NewRegistry()
	agents := intent.NewAgentRegistry()
	bundles := intent.NewToolRegistry()
	prompts := prompt.NewMapStore()

	for _, def := range []intent.Definition{
		{Name: "billing", Description: "invoices and payments", Label: "Billing"},
		{Name: "contract", Description: "contract questions", Label: "Contracts"},
	} {
		if err := intents.Register(def); err != nil {
			t.Fatal(err)
		}
	}
	for _, d := range []intent.AgentDescriptor{
		{Intent: "billing", DisplayName: "Billing"},
		{Intent: "contract", DisplayName: "Contracts"},
	} {
		if err := agents.Register(d); err != nil {
			t.Fatal(err)
		}
	}

	err := bundles.Register(intent.ToolBundle{
		Intent: "billing",
		Tools: []tools.Definition{{
			Name:        "RecordCustomer",
			Description: "Record the customer this conversation is about.",
			Parameters: []tools.Parameter{
				{Name: "userId", Description: "Customer id.", Required: true, Scope: tools.ScopeContext, Shared: true},
			},
		}},
		Handlers: map[string]tools.Handler{
			"RecordCustomer": func(context.Context, *tools.Invocation, map[string]any) tools.Result {
				return tools.OK("recorded")
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []*prompt.Prompt{
		{Target: prompt.IDGuard, Instructions: guardMarker},
		{Target: prompt.IDClassifier, Instructions: classifyMarker + " " + prompt.PlaceholderIntents},
		{Target: prompt.IDPresentation, Instructions: presentMarker},
		{Target: prompt.IDFramework, Instructions: "framework"},
		{Target: "billing", Instructions: billingMarker, Properties: map[string]json.RawMessage{
			"Tools": json.RawMessage(`["RecordCustomer"]`),
		}},
		{Target: "contract", Instructions: contractMarker},
	} {
		if err := prompts.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	e.mgr = NewManager(ManagerConfig{
		Config:      &config.Config{},
		Client:      e.client,
		Prompts:     prompts,
		Intents:     intents,
		Agents:      agents,
		ToolBundles: bundles,
		Store:       st,
		Push:        e.push,
		Limiter:     limiter,
	})
	t.Cleanup(e.mgr.Shutdown)
	return e
}

func TestPresentationPush(t *testing.T) {
	e := newEnv(t)
	e.mgr.CreateConversation("conv-1")

	resp := e.push.wait(t)
	if resp.MessageType != protocol.MessagePresentation {
		t.Errorf("message_type = %q", resp.MessageType)
	}
	if resp.Response != "Welcome!" || resp.AgentName != "Morgana" || resp.AgentCompleted {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.QuickReplies) != 1 || resp.QuickReplies[0].Label != "Billing" {
		t.Errorf("quick replies = %+v", resp.QuickReplies)
	}

	// The trigger is one-shot.
	e.mgr.CreateConversation("conv-1")
	e.push.expectNone(t)
}

func TestPresentationFallback(t *testing.T) {
	e := newEnv(t)
	e.presentFn = func() (string, error) { return "", errors.New("model down") }
	e.mgr.CreateConversation("conv-1")

	resp := e.push.wait(t)
	if resp.MessageType != protocol.MessagePresentation || resp.AgentCompleted {
		t.Errorf("resp = %+v", resp)
	}
	if !strings.Contains(resp.Response, "Billing") || !strings.Contains(resp.Response, "Contracts") {
		t.Errorf("fallback message %q must list the intent labels", resp.Response)
	}
	if len(resp.QuickReplies) != 2 || resp.QuickReplies[0].ID != "billing" {
		t.Errorf("fallback quick replies = %+v", resp.QuickReplies)
	}
}

func TestClassifiedSingleTurn(t *testing.T) {
	e := newEnv(t)
	e.billingRun = func(context.Context, []llm.Message, func(llm.StreamChunk)) (*llm.Result, error) {
		return &llm.Result{Text: "Here is invoice INV-001."}, nil
	}

	e.mgr.HandleMessage(context.Background(), "conv-1", "show my last invoice")
	resp := e.push.wait(t)

	if resp.Response != "Here is invoice INV-001." {
		t.Errorf("response = %q", resp.Response)
	}
	if resp.Classification != "billing" || resp.AgentName != "Morgana (Billing)" || !resp.AgentCompleted {
		t.Errorf("resp = %+v", resp)
	}

	// Sticky is clear, so the next message classifies again.
	e.mgr.HandleMessage(context.Background(), "conv-1", "and the one before?")
	e.push.wait(t)
	if got := e.classifyCalls.Load(); got != 2 {
		t.Errorf("classifier calls = %d, want 2", got)
	}
}

func TestStickyFollowUp(t *testing.T) {
	e := newEnv(t)
	turn := 0
	e.billingRun = func(_ context.Context, msgs []llm.Message, _ func(llm.StreamChunk)) (*llm.Result, error) {
		turn++
		if turn == 1 {
			return &llm.Result{Text: "Which invoice id? #INT#"}, nil
		}
		if turn == 2 {
			last := msgs[len(msgs)-1]
			if last.Role != "user" || last.Content != "INV-001" {
				t.Errorf("follow-up message = %+v", last)
			}
			return &llm.Result{Text: "Invoice total: €120."}, nil
		}
		return &llm.Result{Text: "Anything else sorted."}, nil
	}

	e.mgr.HandleMessage(context.Background(), "conv-1", "show my invoice")
	first := e.push.wait(t)
	if first.AgentCompleted {
		t.Error("sentinel response must keep the turn open")
	}
	if first.Response != "Which invoice id?" {
		t.Errorf("response = %q, sentinel must be stripped", first.Response)
	}

	e.mgr.HandleMessage(context.Background(), "conv-1", "INV-001")
	second := e.push.wait(t)
	if !second.AgentCompleted || second.Response != "Invoice total: €120." {
		t.Errorf("resp = %+v", second)
	}
	if got := e.classifyCalls.Load(); got != 1 {
		t.Errorf("classifier calls = %d, sticky must bypass classification", got)
	}

	// Terminal response clears sticky; the next turn classifies again.
	e.mgr.HandleMessage(context.Background(), "conv-1", "something else")
	e.push.wait(t)
	if got := e.classifyCalls.Load(); got != 2 {
		t.Errorf("classifier calls = %d, want 2 after sticky cleared", got)
	}
}

func TestGuardViolationStopsTurn(t *testing.T) {
	e := newEnv(t)
	e.guardFn = func(string) (string, error) {
		return `{"compliant": false, "violation": "hostile content"}`, nil
	}

	e.mgr.HandleMessage(context.Background(), "conv-1", "something nasty")
	resp := e.push.wait(t)

	if resp.MessageType != protocol.MessageSystem {
		t.Errorf("message_type = %q", resp.MessageType)
	}
	if !strings.Contains(resp.Response, "hostile content") {
		t.Errorf("response %q must carry the violation", resp.Response)
	}
	if got := e.classifyCalls.Load(); got != 0 {
		t.Errorf("classifier calls = %d, guard rejection must stop the turn", got)
	}
}

func TestGuardFailsOpen(t *testing.T) {
	e := newEnv(t)
	e.guardFn = func(string) (string, error) { return "", errors.New("moderation down") }

	e.mgr.HandleMessage(context.Background(), "conv-1", "hello")
	resp := e.push.wait(t)

	if resp.Classification != "billing" || !resp.AgentCompleted {
		t.Errorf("resp = %+v, guard errors must not block routing", resp)
	}
}

func TestClassifierErrorFallsBack(t *testing.T) {
	e := newEnv(t)
	e.classifyFn = func(string) (string, error) { return "", errors.New("boom") }

	e.mgr.HandleMessage(context.Background(), "conv-1", "hello")
	resp := e.push.wait(t)

	if resp.Classification != intent.Other {
		t.Errorf("classification = %q", resp.Classification)
	}
	if !resp.AgentCompleted {
		t.Error("fallback refusal is terminal")
	}
	if !strings.HasPrefix(resp.Metadata["error"], "classification_failed:") {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	fw := &prompt.Prompt{}
	if resp.Response != fw.UnrecognizedIntentError() {
		t.Errorf("response = %q, want the unrecognized-intent template", resp.Response)
	}
}

func TestUnknownIntentSynthesized(t *testing.T) {
	e := newEnv(t)
	e.classifyFn = func(string) (string, error) { return `{"intent":"weather","confidence":0.8}`, nil }

	e.mgr.HandleMessage(context.Background(), "conv-1", "will it rain?")
	resp := e.push.wait(t)

	if !resp.AgentCompleted || resp.AgentName != "Morgana" {
		t.Errorf("resp = %+v", resp)
	}
	fw := &prompt.Prompt{}
	if resp.Response != fw.UnrecognizedIntentError() {
		t.Errorf("response = %q", resp.Response)
	}
}

func TestCrossAgentSharedVariable(t *testing.T) {
	e := newEnv(t)
	e.billingRun = func(_ context.Context, msgs []llm.Message, _ func(llm.StreamChunk)) (*llm.Result, error) {
		last := msgs[len(msgs)-1]
		if last.Role == "user" {
			return &llm.Result{ToolCalls: []llm.ToolCall{
				{ID: "t1", Name: tools.ToolSetContextVariable, Arguments: map[string]any{"name": "userId", "value": "P994E"}},
			}}, nil
		}
		return &llm.Result{Text: "Customer recorded."}, nil
	}

	var contractSaw atomic.Value
	e.contractRun = func(_ context.Context, msgs []llm.Message, _ func(llm.StreamChunk)) (*llm.Result, error) {
		last := msgs[len(msgs)-1]
		if last.Role == "user" {
			return &llm.Result{ToolCalls: []llm.ToolCall{
				{ID: "t1", Name: tools.ToolGetContextVariable, Arguments: map[string]any{"name": "userId"}},
			}}, nil
		}
		contractSaw.Store(last.Content)
		return &llm.Result{Text: "Found your contract."}, nil
	}

	e.mgr.HandleMessage(context.Background(), "conv-1", "my id is P994E")
	e.push.wait(t)

	e.classifyFn = func(string) (string, error) { return `{"intent":"contract","confidence":0.9}`, nil }
	e.mgr.HandleMessage(context.Background(), "conv-1", "show my contract")
	e.push.wait(t)

	if got, _ := contractSaw.Load().(string); got != "P994E" {
		t.Errorf("contract agent read userId = %q, want the broadcast value", got)
	}
}

func TestRateLimitIntercepted(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Enabled: true, MaxPerMinute: 1}, nil)
	e := newEnvWith(t, store.NewMemStore(), limiter)

	e.mgr.HandleMessage(context.Background(), "conv-1", "first")
	e.push.wait(t)

	if ok := e.mgr.HandleMessage(context.Background(), "conv-1", "second"); ok {
		t.Error("second message within the window must be intercepted")
	}
	resp := e.push.wait(t)
	if resp.MessageType != protocol.MessageError || resp.ErrorReason != "rate_limited" {
		t.Errorf("resp = %+v", resp)
	}
	if got := e.classifyCalls.Load(); got != 1 {
		t.Errorf("classifier calls = %d, rate-limited messages must not reach the pipeline", got)
	}
}

func TestStickySurvivesRestart(t *testing.T) {
	st := store.NewMemStore()

	e1 := newEnvWith(t, st, nil)
	e1.billingRun = func(context.Context, []llm.Message, func(llm.StreamChunk)) (*llm.Result, error) {
		return &llm.Result{Text: "Which invoice id? #INT#"}, nil
	}
	e1.mgr.HandleMessage(context.Background(), "conv-1", "show my invoice")
	e1.push.wait(t)
	e1.mgr.Shutdown()

	e2 := newEnvWith(t, st, nil)
	var sawHistory atomic.Bool
	e2.billingRun = func(_ context.Context, msgs []llm.Message, _ func(llm.StreamChunk)) (*llm.Result, error) {
		for _, m := range msgs {
			if m.Role == "assistant" && strings.Contains(m.Content, "Which invoice id?") {
				sawHistory.Store(true)
			}
		}
		return &llm.Result{Text: "Invoice total: €120."}, nil
	}

	e2.mgr.HandleMessage(context.Background(), "conv-1", "INV-001")
	resp := e2.push.wait(t)

	if got := e2.classifyCalls.Load(); got != 0 {
		t.Errorf("classifier calls = %d, restored sticky must bypass classification", got)
	}
	if !sawHistory.Load() {
		t.Error("restored agent must carry the persisted history")
	}
	if !resp.AgentCompleted {
		t.Error("terminal follow-up must complete")
	}
}

func TestResumeClearsStickyWithoutSession(t *testing.T) {
	st := store.NewMemStore()
	blob, _ := json.Marshal(supervisorState{StickyIntent: "billing"})
	if err := st.Save(context.Background(), "_supervisor-conv-1", blob); err != nil {
		t.Fatal(err)
	}

	e := newEnvWith(t, st, nil)
	e.mgr.HandleMessage(context.Background(), "conv-1", "hello")
	e.push.wait(t)

	if got := e.classifyCalls.Load(); got != 1 {
		t.Errorf("classifier calls = %d, unresolvable sticky must fall back to classification", got)
	}
}

func TestTerminateAndSweep(t *testing.T) {
	e := newEnv(t)
	e.mgr.HandleMessage(context.Background(), "conv-1", "hello")
	e.push.wait(t)
	if e.mgr.Active() != 1 {
		t.Fatalf("active = %d", e.mgr.Active())
	}

	e.mgr.Terminate("conv-1")
	if e.mgr.Active() != 0 {
		t.Errorf("active = %d after terminate", e.mgr.Active())
	}

	e.mgr.HandleMessage(context.Background(), "conv-2", "hello")
	e.push.wait(t)
	time.Sleep(20 * time.Millisecond)
	if removed := e.mgr.SweepIdle(10 * time.Millisecond); removed != 1 {
		t.Errorf("sweep removed = %d", removed)
	}
}

func TestStreamingChunksForwarded(t *testing.T) {
	e := newEnv(t)
	e.billingRun = func(_ context.Context, _ []llm.Message, onChunk func(llm.StreamChunk)) (*llm.Result, error) {
		if onChunk != nil {
			onChunk(llm.StreamChunk{Content: "Here "})
			onChunk(llm.StreamChunk{Content: "you go."})
		}
		return &llm.Result{Text: "Here you go."}, nil
	}

	e.mgr.HandleMessage(context.Background(), "conv-1", "invoice please")
	e.push.wait(t)

	e.push.mu.Lock()
	defer e.push.mu.Unlock()
	if len(e.push.chunks) != 2 || e.push.chunks[0].Content != "Here " || e.push.chunks[1].Content != "you go." {
		t.Errorf("chunks = %+v", e.push.chunks)
	}
}
