// Package dispatch turns agent prompts into validated actions. It resolves
// the public model type to a provider and concrete model, enforces per-call
// timeouts and bounded retries, writes one llm_usage row per attempt, and
// degrades to a deterministic routine action when no provider can serve.
// Decide never fails its caller.
package dispatch

import (
	"context"
	"fmt"

	"github.com/polis-labs/polis/pkg/config"
)

// CompletionRequest is one prompt pair bound for a provider.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// Completion is the text and token accounting a provider returned.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// providerClient is the adapter surface, one implementation per SDK.
// Adapters classify their own SDK errors into *CallError.
type providerClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// buildClient constructs the adapter for one configured provider. The
// OpenAI-compatible family shares a single adapter pointed at different
// base URLs.
func buildClient(ctx context.Context, name string, pc *config.ProviderConfig, apiKey string) (providerClient, error) {
	switch pc.Type {
	case config.ProviderAnthropic:
		return newAnthropicClient(apiKey), nil
	case config.ProviderOpenAI, config.ProviderOpenRouter, config.ProviderGroq, config.ProviderMistral:
		return newOpenAICompatClient(name, apiKey, pc.BaseURL), nil
	case config.ProviderGemini:
		return newGeminiClient(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider type %q for provider %s", pc.Type, name)
	}
}
