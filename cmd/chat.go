package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/morgana/internal/config"
	"github.com/nextlevelbuilder/morgana/internal/conversation"
	"github.com/nextlevelbuilder/morgana/internal/intent"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/store"
	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive local chat (no gateway required)",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(conversationID)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "resume an existing conversation id")
	return cmd
}

// consolePush prints conversation output to stdout and signals the REPL
// when a terminal message lands, so the prompt waits for the answer.
type consolePush struct {
	turns     chan *protocol.ConversationResponse
	streaming bool
}

func (p *consolePush) PushMessage(_ context.Context, _ string, resp *protocol.ConversationResponse) {
	select {
	case p.turns <- resp:
	default:
	}
}

func (p *consolePush) PushChunk(_ context.Context, _ string, chunk protocol.StreamChunk) {
	if p.streaming {
		fmt.Print(chunk.Content)
	}
}

func runChat(conversationID string) {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if conversationID == "" {
		mode := "new"
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Conversation").
				Options(
					huh.NewOption("Start a new conversation", "new"),
					huh.NewOption("Resume an existing one", "resume"),
				).
				Value(&mode),
		))
		if err := form.Run(); err != nil {
			return
		}
		if mode == "resume" {
			if err := huh.NewInput().Title("Conversation id").Value(&conversationID).Run(); err != nil {
				return
			}
			conversationID = strings.TrimSpace(conversationID)
		}
	}

	push := &consolePush{
		turns:     make(chan *protocol.ConversationResponse, 8),
		streaming: cfg.StreamingEnabled(),
	}
	mgr, sessionStore, err := buildChatManager(ctx, cfg, push)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Shutdown()
	defer sessionStore.Close()

	conversationID = mgr.CreateConversation(conversationID)
	fmt.Fprintf(os.Stderr, "\nMorgana Chat\nConversation: %s\n", conversationID)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a new conversation\n\n")

	// CreateConversation triggers the greeting; show it before prompting.
	waitForTurn(ctx, push)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return
		default:
		}

		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		}
		if input == "/new" {
			mgr.Terminate(conversationID)
			conversationID = mgr.CreateConversation("")
			fmt.Fprintf(os.Stderr, "New conversation: %s\n\n", conversationID)
			waitForTurn(ctx, push)
			continue
		}

		// A rejected turn still pushes a rate-limit notice, so wait either way.
		mgr.HandleMessage(ctx, conversationID, input)
		waitForTurn(ctx, push)
	}
}

func waitForTurn(ctx context.Context, push *consolePush) {
	select {
	case <-ctx.Done():
	case resp := <-push.turns:
		printResponse(resp)
	case <-time.After(2 * time.Minute):
		fmt.Fprintln(os.Stderr, "(no response)")
	}
}

func printResponse(resp *protocol.ConversationResponse) {
	name := resp.AgentName
	if name == "" {
		name = "Morgana"
	}
	fmt.Printf("\n%s: %s\n", name, resp.Response)

	if len(resp.QuickReplies) > 0 {
		width := 0
		for _, qr := range resp.QuickReplies {
			if w := runewidth.StringWidth(qr.Label); w > width {
				width = w
			}
		}
		for _, qr := range resp.QuickReplies {
			fmt.Printf("  [%s]  %s\n", runewidth.FillRight(qr.Label, width), qr.Value)
		}
	}
	fmt.Println()
}

// buildChatManager assembles the same pipeline serve runs, minus the
// gateway: sessions go to the configured backend so chats resume across
// invocations.
func buildChatManager(ctx context.Context, cfg *config.Config, push conversation.Pusher) (*conversation.Manager, store.Store, error) {
	client, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	prompts, err := prompt.LoadDir(config.ExpandHome(cfg.Prompts.Dir))
	if err != nil {
		return nil, nil, err
	}

	intents := intent.NewRegistry()
	agents := intent.NewAgentRegistry()
	bundles := intent.NewToolRegistry()
	doc, err := intent.LoadConfig(config.ExpandHome(cfg.Intents.Path))
	if err != nil {
		return nil, nil, err
	}
	if err := doc.Apply(intents, agents, prompts); err != nil {
		return nil, nil, err
	}
	if err := intent.Validate(intents, agents, bundles); err != nil {
		return nil, nil, err
	}

	sessionStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	mgr := conversation.NewManager(conversation.ManagerConfig{
		Config:      cfg,
		Client:      client,
		Prompts:     prompts,
		Intents:     intents,
		Agents:      agents,
		ToolBundles: bundles,
		Store:       sessionStore,
		Push:        push,
	})
	return mgr, sessionStore, nil
}
