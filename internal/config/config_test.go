package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.StreamingEnabled() {
		t.Error("streaming should default to enabled")
	}
	if cfg.Conversation.AgentTimeoutSec != 90 {
		t.Errorf("agent timeout = %d, want 90", cfg.Conversation.AgentTimeoutSec)
	}
	if cfg.Persistence.Backend != "file" {
		t.Errorf("backend = %q, want file", cfg.Persistence.Backend)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// streaming off for tests
		streaming: { enabled: false },
		rate_limiting: { enabled: true, max_per_minute: 5 },
		llm: { provider: "anthropic" },
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StreamingEnabled() {
		t.Error("streaming should be disabled")
	}
	if !cfg.RateLimiting.Enabled || cfg.RateLimiting.MaxPerMinute != 5 {
		t.Errorf("rate limiting = %+v", cfg.RateLimiting)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
	// untouched sections keep defaults
	if cfg.Gateway.Port != 18890 {
		t.Errorf("gateway port = %d", cfg.Gateway.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MORGANA_OPENAI_API_KEY", "sk-test")
	t.Setenv("MORGANA_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("MORGANA_PORT", "9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.LLM.OpenAI.APIKey)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram should auto-enable when token provided")
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}
