package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/morgana/internal/bus"
	"github.com/nextlevelbuilder/morgana/internal/intent"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/store"
	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// fnClient is a function-field llm.Client for router-level tests.
type fnClient struct {
	completeFn func(ctx context.Context, system, user string) (string, error)
	runFn      func(ctx context.Context, msgs []llm.Message) (*llm.Result, error)
}

func (c *fnClient) Name() string { return "fn" }

func (c *fnClient) Complete(ctx context.Context, system, user, _ string) (string, error) {
	return c.completeFn(ctx, system, user)
}

func (c *fnClient) Run(ctx context.Context, msgs []llm.Message, _ []llm.ToolDef, _ func(llm.StreamChunk)) (*llm.Result, error) {
	return c.runFn(ctx, msgs)
}

func routerFixtures(t *testing.T, intentNames ...string) (RouterConfig, *intent.Registry) {
	t.Helper()
	intents := intent.NewRegistry()
	agents := intent.NewAgentRegistry()
	prompts := prompt.NewMapStore()

	if err := prompts.Add(&prompt.Prompt{Target: prompt.IDFramework}); err != nil {
		t.Fatal(err)
	}
	for _, name := range intentNames {
		if err := intents.Register(intent.Definition{Name: name, Description: name}); err != nil {
			t.Fatal(err)
		}
		if err := agents.Register(intent.AgentDescriptor{Intent: name, DisplayName: name}); err != nil {
			t.Fatal(err)
		}
		if err := prompts.Add(&prompt.Prompt{Target: name, Instructions: "agent " + name}); err != nil {
			t.Fatal(err)
		}
	}

	return RouterConfig{
		ConversationID: "conv-1",
		Client:         &fnClient{},
		Prompts:        prompts,
		Intents:        intents,
		Agents:         agents,
		ToolBundles:    intent.NewToolRegistry(),
		Store:          store.NewMemStore(),
	}, intents
}

func TestBroadcastReachesAllSiblings(t *testing.T) {
	cfg, _ := routerFixtures(t, "billing", "contract", "support")
	r := NewRouter(cfg)

	r.Broadcast(bus.ContextUpdate{
		SourceIntent: "billing",
		Updates:      []bus.KeyValue{{Key: "userId", Value: "P994E"}},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.live) != 2 {
		t.Fatalf("live agents = %d, want one per sibling", len(r.live))
	}
	if _, ok := r.live["billing"]; ok {
		t.Error("source agent must not receive its own update")
	}
	for _, name := range []string{"contract", "support"} {
		if _, ok := r.live[name]; !ok {
			t.Errorf("agent %q missing from fan-out", name)
		}
	}
}

func TestDispatchWithoutClassification(t *testing.T) {
	cfg, _ := routerFixtures(t, "billing")
	r := NewRouter(cfg)

	res := r.Dispatch(context.Background(), "hello", nil, nil)
	if res.Agent != nil {
		t.Error("synthesized response must not involve an agent")
	}
	fw := &prompt.Prompt{}
	if !res.Response.Completed || res.Response.Text != fw.MissingClassificationError() {
		t.Errorf("response = %+v", res.Response)
	}
}

func TestDispatchUnboundIntent(t *testing.T) {
	cfg, _ := routerFixtures(t, "billing")
	r := NewRouter(cfg)

	res := r.Dispatch(context.Background(), "hello", &bus.Classification{Intent: intent.Other}, nil)
	if res.Agent != nil {
		t.Error("the reserved intent never maps to an agent")
	}
	fw := &prompt.Prompt{}
	if !res.Response.Completed || res.Response.Text != fw.UnrecognizedIntentError() {
		t.Errorf("response = %+v", res.Response)
	}
}

func TestRestoreAgentWithoutBlob(t *testing.T) {
	cfg, _ := routerFixtures(t, "billing")
	r := NewRouter(cfg)

	if ag := r.RestoreAgent(context.Background(), "billing"); ag != nil {
		t.Error("restore without a persisted session must return nil")
	}
}

func TestSupervisorAgentTimeout(t *testing.T) {
	cfg, intents := routerFixtures(t, "billing")
	cfg.Client = &fnClient{
		completeFn: func(_ context.Context, system, _ string) (string, error) {
			if strings.Contains(system, "classify") {
				return `{"intent":"billing","confidence":0.9}`, nil
			}
			return `{"compliant": true}`, nil
		},
		runFn: func(ctx context.Context, _ []llm.Message) (*llm.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	if err := cfg.Prompts.(*prompt.MapStore).Add(&prompt.Prompt{Target: prompt.IDGuard, Instructions: "guard"}); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Prompts.(*prompt.MapStore).Add(&prompt.Prompt{Target: prompt.IDClassifier, Instructions: "classify"}); err != nil {
		t.Fatal(err)
	}

	push := newCapturePush()
	sup := NewSupervisor(SupervisorConfig{
		ConversationID: "conv-1",
		Guard:          NewGuard(cfg.Client, cfg.Prompts),
		Classifier:     NewClassifier(cfg.Client, cfg.Prompts, intents),
		Router:         NewRouter(cfg),
		Push:           push,
		Client:         cfg.Client,
		Prompts:        cfg.Prompts,
		Intents:        intents,
		Store:          cfg.Store,
		AgentTimeout:   50 * time.Millisecond,
	})
	sup.Start()
	defer sup.Stop()

	sup.Enqueue(bus.UserMessage{ConversationID: "conv-1", Text: "hang", Timestamp: time.Now()})
	resp := push.wait(t)

	if resp.MessageType != protocol.MessageError || resp.ErrorReason != "agent_timeout" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Response != timeoutMessage {
		t.Errorf("response = %q", resp.Response)
	}
}
