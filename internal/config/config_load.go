package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Conversation: ConversationConfig{
			AgentTimeoutSec:    90,
			DispatchTimeoutSec: 60,
			IdleTimeoutSec:     60,
			MaxToolIterations:  20,
		},
		Persistence: PersistenceConfig{
			Backend:     "file",
			StoragePath: "~/.morgana/sessions",
		},
		RateLimiting: RateLimitingConfig{
			ErrorMessageMinute: "You are sending messages too quickly. Please wait a moment.",
			ErrorMessageHour:   "Hourly message limit reached. Please try again later.",
			ErrorMessageDay:    "Daily message limit reached. Please come back tomorrow.",
		},
		LLM: LLMConfig{
			Provider: "openai",
			OpenAI:   ProviderConfig{Model: "gpt-4o"},
			Anthropic: ProviderConfig{
				Model: "claude-sonnet-4-5-20250929",
			},
		},
		Prompts: PromptsConfig{Dir: "prompts"},
		Intents: IntentsConfig{Path: "intents.json"},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18890,
			MaxMessageChars: 32000,
			RateLimitRPM:    60,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "morgana",
		},
		Sweep: SweepConfig{Schedule: "* * * * *"},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("MORGANA_OPENAI_API_KEY", &c.LLM.OpenAI.APIKey)
	envStr("MORGANA_ANTHROPIC_API_KEY", &c.LLM.Anthropic.APIKey)
	envStr("MORGANA_PROVIDER", &c.LLM.Provider)

	envStr("MORGANA_ENCRYPTION_KEY", &c.Persistence.EncryptionKey)
	envStr("MORGANA_POSTGRES_DSN", &c.Persistence.PostgresDSN)
	envStr("MORGANA_STORAGE_PATH", &c.Persistence.StoragePath)

	envStr("MORGANA_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("MORGANA_HOST", &c.Gateway.Host)
	if v := os.Getenv("MORGANA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("MORGANA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("MORGANA_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("MORGANA_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("MORGANA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MORGANA_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
