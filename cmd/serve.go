package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/morgana/internal/channels"
	"github.com/nextlevelbuilder/morgana/internal/channels/telegram"
	"github.com/nextlevelbuilder/morgana/internal/config"
	"github.com/nextlevelbuilder/morgana/internal/conversation"
	"github.com/nextlevelbuilder/morgana/internal/gateway"
	"github.com/nextlevelbuilder/morgana/internal/intent"
	"github.com/nextlevelbuilder/morgana/internal/llm"
	"github.com/nextlevelbuilder/morgana/internal/prompt"
	"github.com/nextlevelbuilder/morgana/internal/ratelimit"
	"github.com/nextlevelbuilder/morgana/internal/store"
	"github.com/nextlevelbuilder/morgana/internal/sweep"
	"github.com/nextlevelbuilder/morgana/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry.init_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(shutdownCtx)
	}()

	client, err := llm.New(cfg.LLM)
	if err != nil {
		slog.Error("llm.init_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("llm.ready", "provider", client.Name())

	prompts, err := prompt.LoadDir(config.ExpandHome(cfg.Prompts.Dir))
	if err != nil {
		slog.Error("prompts.load_failed", "error", err)
		os.Exit(1)
	}

	intents := intent.NewRegistry()
	agents := intent.NewAgentRegistry()
	bundles := intent.NewToolRegistry()

	doc, err := intent.LoadConfig(config.ExpandHome(cfg.Intents.Path))
	if err != nil {
		slog.Error("intents.load_failed", "error", err)
		os.Exit(1)
	}
	if err := doc.Apply(intents, agents, prompts); err != nil {
		slog.Error("intents.apply_failed", "error", err)
		os.Exit(1)
	}
	if err := intent.Validate(intents, agents, bundles); err != nil {
		slog.Error("startup.validation_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("intents.loaded", "count", len(intents.Names()))

	if len(cfg.MCPServers) > 0 {
		// Parsed and exposed for the optional tool-ingestion collaborator.
		slog.Info("mcp.configured", "servers", len(cfg.MCPServers))
	}

	sessionStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("store.init_failed", "error", err)
		os.Exit(1)
	}
	defer sessionStore.Close()

	var limiter *ratelimit.Limiter
	var journal *ratelimit.Journal
	if cfg.RateLimiting.Enabled {
		if cfg.RateLimiting.CounterPath != "" {
			journal, err = ratelimit.OpenJournal(config.ExpandHome(cfg.RateLimiting.CounterPath))
			if err != nil {
				slog.Error("ratelimit.journal_failed", "error", err)
				os.Exit(1)
			}
			defer journal.Close()
		}
		limiter = ratelimit.New(ratelimit.Config{
			Enabled:      true,
			MaxPerMinute: cfg.RateLimiting.MaxPerMinute,
			MaxPerHour:   cfg.RateLimiting.MaxPerHour,
			MaxPerDay:    cfg.RateLimiting.MaxPerDay,
		}, journal)
	}

	push := channels.NewManager()
	mgr := conversation.NewManager(conversation.ManagerConfig{
		Config:      cfg,
		Client:      client,
		Prompts:     prompts,
		Intents:     intents,
		Agents:      agents,
		ToolBundles: bundles,
		Store:       sessionStore,
		Push:        push,
		Limiter:     limiter,
	})
	defer mgr.Shutdown()

	gw := gateway.NewServer(cfg.Gateway, mgr)
	push.Register(gw)

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram)
		if err != nil {
			slog.Error("telegram.init_failed", "error", err)
			os.Exit(1)
		}
		push.Register(tg)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Start(gctx) })

	if cfg.Sweep.Enabled {
		maxIdle := time.Duration(cfg.Conversation.IdleTimeoutSec) * time.Second
		sweeper, err := sweep.New(mgr, cfg.Sweep.Schedule, maxIdle)
		if err != nil {
			slog.Error("sweep.init_failed", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("serve.failed", "error", err)
		os.Exit(1)
	}
	slog.Info("serve.stopped")
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Persistence.Backend {
	case "", "file":
		return store.NewFileStore(config.ExpandHome(cfg.Persistence.StoragePath), cfg.Persistence.EncryptionKey)
	case "postgres":
		if cfg.Persistence.PostgresDSN == "" {
			return nil, fmt.Errorf("MORGANA_POSTGRES_DSN environment variable is not set")
		}
		return store.NewPGStore(ctx, cfg.Persistence.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}
