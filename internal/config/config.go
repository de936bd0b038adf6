// Package config loads and validates the morgana configuration file.
package config

// Config is the root configuration, loaded from a JSON5 file with
// environment overrides for secrets.
type Config struct {
	Streaming    StreamingConfig    `json:"streaming"`
	Conversation ConversationConfig `json:"conversation"`
	Persistence  PersistenceConfig  `json:"persistence"`
	RateLimiting RateLimitingConfig `json:"rate_limiting"`
	LLM          LLMConfig          `json:"llm"`
	Prompts      PromptsConfig      `json:"prompts"`
	Intents      IntentsConfig      `json:"intents"`
	Gateway      GatewayConfig      `json:"gateway"`
	Channels     ChannelsConfig     `json:"channels"`
	Telemetry    TelemetryConfig    `json:"telemetry"`
	Sweep        SweepConfig        `json:"sweep"`
	MCPServers   []MCPServerConfig  `json:"mcp_servers,omitempty"`
}

// StreamingConfig controls whether agent responses stream chunk-by-chunk.
type StreamingConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // default true
}

// StreamingEnabled resolves the default.
func (c *Config) StreamingEnabled() bool {
	if c.Streaming.Enabled == nil {
		return true
	}
	return *c.Streaming.Enabled
}

// ConversationConfig tunes the per-conversation actor tree.
type ConversationConfig struct {
	AgentTimeoutSec    int  `json:"agent_timeout_sec"`    // default 90
	DispatchTimeoutSec int  `json:"dispatch_timeout_sec"` // default 60
	IdleTimeoutSec     int  `json:"idle_timeout_sec"`     // default 60
	MaxToolIterations  int  `json:"max_tool_iterations"`  // default 20
	MaxHistoryTurns    int  `json:"max_history_turns"`    // 0 = unlimited
	DebugSentinel      bool `json:"debug_sentinel"`       // keep #INT# in client text
}

// PersistenceConfig selects and configures the session store.
type PersistenceConfig struct {
	Backend       string `json:"backend"` // "file" (default) or "postgres"
	StoragePath   string `json:"storage_path"`
	EncryptionKey string `json:"-"` // MORGANA_ENCRYPTION_KEY only
	PostgresDSN   string `json:"-"` // MORGANA_POSTGRES_DSN only
}

// RateLimitingConfig bounds message throughput per conversation.
// A zero threshold disables that window.
type RateLimitingConfig struct {
	Enabled            bool   `json:"enabled"`
	MaxPerMinute       int    `json:"max_per_minute"`
	MaxPerHour         int    `json:"max_per_hour"`
	MaxPerDay          int    `json:"max_per_day"`
	ErrorMessageMinute string `json:"error_message_minute"`
	ErrorMessageHour   string `json:"error_message_hour"`
	ErrorMessageDay    string `json:"error_message_day"`
	CounterPath        string `json:"counter_path"` // sqlite file; empty = in-memory only
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider  string         `json:"provider"` // "openai" or "anthropic"
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
}

// ProviderConfig holds per-provider connection settings. API keys come from
// the environment only and never persist in the config file.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// PromptsConfig points at the prompt template directory.
type PromptsConfig struct {
	Dir string `json:"dir"`
}

// IntentsConfig points at the intent configuration document.
type IntentsConfig struct {
	Path string `json:"path"`
}

// GatewayConfig configures the HTTP + WebSocket surface.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	MaxMessageChars int    `json:"max_message_chars"`
	RateLimitRPM    int    `json:"rate_limit_rpm"`
}

// ChannelsConfig configures outbound push channels.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures the Telegram push adapter.
type TelegramConfig struct {
	Enabled bool             `json:"enabled"`
	Token   string           `json:"-"`                  // MORGANA_TELEGRAM_TOKEN only
	ChatIDs map[string]int64 `json:"chat_ids,omitempty"` // conversation id -> chat id
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Protocol    string `json:"protocol"` // "http" or "grpc"
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// SweepConfig schedules the idle-conversation sweep.
type SweepConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron expression, default "* * * * *"
}

// MCPServerConfig is parsed and handed to an optional tool-ingestion
// collaborator; the core itself does not interpret it.
type MCPServerConfig struct {
	Name     string            `json:"name"`
	URI      string            `json:"uri"`
	Enabled  bool              `json:"enabled"`
	Settings map[string]string `json:"settings,omitempty"`
}
