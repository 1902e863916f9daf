package llm

import (
	"fmt"
	"log/slog"

	"github.com/mpataki/nourishbot/internal/config"
)

// New builds the configured provider client wrapped with retries.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	counter, err := NewTokenCounter()
	if err != nil {
		logger.Warn("token counter unavailable, estimating by length", "error", err)
	}

	var client Client
	switch cfg.Provider {
	case config.ProviderOpenAI:
		client = NewOpenAIClient(cfg, counter)
	case config.ProviderAnthropic:
		client = NewAnthropicClient(cfg, counter)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}

	return WithRetry(client, DefaultPolicy(cfg.MaxRetries), logger), nil
}
