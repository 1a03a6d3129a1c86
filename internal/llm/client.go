package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/solace/internal/config"
)

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

const (
	defaultModel       = "claude-haiku-4-5-20251001"
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
	defaultMaxTokens   = 512
	defaultTemperature = 0.7
	defaultTimeout     = 30 * time.Second
)

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates an LLM client based on the config provider setting.
// The "template" provider has no client; callers get (nil, nil) and fall
// back to canned replies.
func NewClient(cfg config.LLMConfig) (Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	switch cfg.Provider {
	case "", config.ProviderTemplate:
		return nil, nil
	case config.ProviderAnthropic:
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = defaultModel
		}
		a := NewAnthropic(cfg.AnthropicKey, model, timeout)
		if cfg.AnthropicURL != "" {
			a.endpoint = cfg.AnthropicURL
		}
		a.maxTokens, a.temperature = tuning(cfg)
		return a, nil
	case config.ProviderOllama:
		url := cfg.OllamaURL
		if url == "" {
			url = defaultOllamaURL
		}
		model := cfg.OllamaModel
		if model == "" {
			model = defaultOllamaModel
		}
		o := NewOllama(url, model, timeout)
		o.maxTokens, o.temperature = tuning(cfg)
		return o, nil
	case config.ProviderCommand:
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("command provider requires llm.command")
		}
		return NewCommand(cfg.Command, timeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}

// tuning returns the configured reply length and temperature, keeping the
// defaults for unset values.
func tuning(cfg config.LLMConfig) (int, float64) {
	maxTokens, temp := defaultMaxTokens, defaultTemperature
	if cfg.MaxTokens > 0 {
		maxTokens = cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		temp = cfg.Temperature
	}
	return maxTokens, temp
}
