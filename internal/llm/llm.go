// Package llm is the single completion capability the orchestrators depend on.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"brokerflow/api/internal/config"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o"
)

var ErrUnknownProvider = errors.New("unknown llm provider")

type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

type Response struct {
	Text       string
	TokenCount int
}

type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
	Model() string
}

// New selects a backend by cfg.LLMProvider.
func New(cfg config.Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "", ProviderAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.LLMProvider)
	}
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
