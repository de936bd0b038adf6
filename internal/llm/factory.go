package llm

import (
	"fmt"

	"github.com/nextlevelbuilder/morgana/internal/config"
)

// New builds the configured provider client.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai: MORGANA_OPENAI_API_KEY is not set")
		}
		return NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, cfg.OpenAI.Model), nil
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic: MORGANA_ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.APIBase, cfg.Anthropic.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
