package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/morgana/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("morgana doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("OpenAI", cfg.LLM.OpenAI.APIKey)
	checkProvider("Anthropic", cfg.LLM.Anthropic.APIKey)
	fmt.Printf("    %-12s %s\n", "Active:", cfg.LLM.Provider)

	fmt.Println()
	fmt.Println("  Definitions:")
	checkPath("Prompts", config.ExpandHome(cfg.Prompts.Dir))
	checkPath("Intents", config.ExpandHome(cfg.Intents.Path))

	fmt.Println()
	fmt.Println("  Persistence:")
	backend := cfg.Persistence.Backend
	if backend == "" {
		backend = "file"
	}
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	switch backend {
	case "file":
		checkPath("Path", config.ExpandHome(cfg.Persistence.StoragePath))
		if cfg.Persistence.EncryptionKey != "" {
			fmt.Printf("    %-12s at rest (MORGANA_ENCRYPTION_KEY set)\n", "Encryption:")
		} else {
			fmt.Printf("    %-12s none\n", "Encryption:")
		}
	case "postgres":
		if cfg.Persistence.PostgresDSN == "" {
			fmt.Printf("    %-12s MORGANA_POSTGRES_DSN not set\n", "Status:")
			break
		}
		checkPostgres(cfg.Persistence.PostgresDSN)
	}

	if cfg.RateLimiting.Enabled && cfg.RateLimiting.CounterPath != "" {
		checkPath("Counters", config.ExpandHome(cfg.RateLimiting.CounterPath))
	}

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	fmt.Printf("    %-12s %s:%d\n", "Gateway:", cfg.Gateway.Host, cfg.Gateway.Port)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name, apiKey string) {
	if len(apiKey) >= 8 {
		masked := apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
		fmt.Printf("    %-12s %s\n", name+":", masked)
	} else if apiKey != "" {
		fmt.Printf("    %-12s (set)\n", name+":")
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func checkPath(name, path string) {
	fmt.Printf("    %-12s %s", name+":", path)
	if _, err := os.Stat(path); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkPostgres(dsn string) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s connected\n", "Status:")
}
