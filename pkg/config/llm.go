package config

import (
	"fmt"
	"sync"
)

// ProviderType identifies which SDK adapter serves a provider.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderGroq       ProviderType = "groq"
	ProviderMistral    ProviderType = "mistral"
	ProviderGemini     ProviderType = "gemini"
)

// IsValid checks if the provider type is supported
func (t ProviderType) IsValid() bool {
	switch t {
	case ProviderAnthropic, ProviderOpenAI, ProviderOpenRouter, ProviderGroq, ProviderMistral, ProviderGemini:
		return true
	default:
		return false
	}
}

// ModelTier buckets model types by cost for reporting and champion selection.
type ModelTier string

const (
	TierPremium  ModelTier = "premium"
	TierStandard ModelTier = "standard"
	TierEconomy  ModelTier = "economy"
)

// IsValid checks if the tier is a known bucket
func (t ModelTier) IsValid() bool {
	switch t {
	case TierPremium, TierStandard, TierEconomy:
		return true
	default:
		return false
	}
}

// ProviderConfig defines one upstream model provider.
type ProviderConfig struct {
	// Provider type (required); selects the SDK adapter.
	Type ProviderType `yaml:"type"`

	// Environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint. OpenAI-compatible providers (openrouter,
	// groq, mistral) default to their public endpoints when empty.
	BaseURL string `yaml:"base_url,omitempty"`

	// Byok marks the key as caller-supplied: calls through this provider
	// are recorded with zero cost.
	Byok bool `yaml:"byok,omitempty"`

	// Per-call timeout in seconds; 0 uses the dispatch default.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// ModelSpec maps one public model type to a provider and a resolved model
// name, with its price entry. Prices are USD per million tokens.
type ModelSpec struct {
	ModelType          string    `yaml:"model_type"`
	Provider           string    `yaml:"provider"`
	ResolvedModel      string    `yaml:"resolved_model"`
	Tier               ModelTier `yaml:"tier"`
	InputPricePerMTok  float64   `yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64   `yaml:"output_price_per_mtok"`

	// FreeTierDailyCalls > 0 marks a free-tier model and its daily call
	// allowance, feeding the budget's free-tier utilization figure.
	FreeTierDailyCalls int `yaml:"free_tier_daily_calls,omitempty"`
}

// EstimateCostUSD prices one call.
func (m *ModelSpec) EstimateCostUSD(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*m.InputPricePerMTok/1e6 +
		float64(completionTokens)*m.OutputPricePerMTok/1e6
}

// builtinProviders is the provider set every deployment starts from;
// llm-providers.yaml entries override by name.
func builtinProviders() map[string]*ProviderConfig {
	return map[string]*ProviderConfig{
		"anthropic":  {Type: ProviderAnthropic, APIKeyEnv: "ANTHROPIC_API_KEY"},
		"openai":     {Type: ProviderOpenAI, APIKeyEnv: "OPENAI_API_KEY"},
		"openrouter": {Type: ProviderOpenRouter, APIKeyEnv: "OPENROUTER_API_KEY", BaseURL: "https://openrouter.ai/api/v1"},
		"groq":       {Type: ProviderGroq, APIKeyEnv: "GROQ_API_KEY", BaseURL: "https://api.groq.com/openai/v1"},
		"mistral":    {Type: ProviderMistral, APIKeyEnv: "MISTRAL_API_KEY", BaseURL: "https://api.mistral.ai/v1"},
		"gemini":     {Type: ProviderGemini, APIKeyEnv: "GEMINI_API_KEY"},
	}
}

// builtinModelTable is the fixed model enum. Adding a model type means
// adding a row here plus widening the agents.model_type CHECK constraint.
func builtinModelTable() map[string]*ModelSpec {
	specs := []*ModelSpec{
		{ModelType: "claude-sonnet-4", Provider: "anthropic", ResolvedModel: "claude-sonnet-4-20250514", Tier: "premium", InputPricePerMTok: 3.00, OutputPricePerMTok: 15.00},
		{ModelType: "claude-haiku", Provider: "anthropic", ResolvedModel: "claude-3-5-haiku-20241022", Tier: "standard", InputPricePerMTok: 0.80, OutputPricePerMTok: 4.00},
		{ModelType: "gpt-4o-mini", Provider: "openai", ResolvedModel: "gpt-4o-mini", Tier: "standard", InputPricePerMTok: 0.15, OutputPricePerMTok: 0.60},
		{ModelType: "llama-3.3-70b", Provider: "groq", ResolvedModel: "llama-3.3-70b-versatile", Tier: "economy", InputPricePerMTok: 0.59, OutputPricePerMTok: 0.79, FreeTierDailyCalls: 1000},
		{ModelType: "llama-3.1-8b", Provider: "groq", ResolvedModel: "llama-3.1-8b-instant", Tier: "economy", InputPricePerMTok: 0.05, OutputPricePerMTok: 0.08, FreeTierDailyCalls: 14400},
		{ModelType: "gemini-flash", Provider: "gemini", ResolvedModel: "gemini-2.0-flash", Tier: "economy", InputPricePerMTok: 0.10, OutputPricePerMTok: 0.40, FreeTierDailyCalls: 1500},
		{ModelType: "or_gpt_oss_120b", Provider: "openrouter", ResolvedModel: "openai/gpt-oss-120b", Tier: "economy", InputPricePerMTok: 0.15, OutputPricePerMTok: 0.60},
		{ModelType: "or_qwen3_coder", Provider: "openrouter", ResolvedModel: "qwen/qwen3-coder", Tier: "economy", InputPricePerMTok: 0.30, OutputPricePerMTok: 1.20},
		{ModelType: "or_deepseek_chat", Provider: "openrouter", ResolvedModel: "deepseek/deepseek-chat-v3-0324", Tier: "economy", InputPricePerMTok: 0.25, OutputPricePerMTok: 1.00},
		{ModelType: "gr_llama4_maverick", Provider: "groq", ResolvedModel: "meta-llama/llama-4-maverick-17b-128e-instruct", Tier: "economy", InputPricePerMTok: 0.20, OutputPricePerMTok: 0.60},
		{ModelType: "gr_kimi_k2", Provider: "groq", ResolvedModel: "moonshotai/kimi-k2-instruct", Tier: "standard", InputPricePerMTok: 1.00, OutputPricePerMTok: 3.00},
		{ModelType: "mistral-small", Provider: "mistral", ResolvedModel: "mistral-small-latest", Tier: "economy", InputPricePerMTok: 0.10, OutputPricePerMTok: 0.30},
		{ModelType: "mistral-medium", Provider: "mistral", ResolvedModel: "mistral-medium-latest", Tier: "standard", InputPricePerMTok: 0.40, OutputPricePerMTok: 2.00},
	}
	table := make(map[string]*ModelSpec, len(specs))
	for _, s := range specs {
		table[s.ModelType] = s
	}
	return table
}

// ProviderRegistry stores provider configurations with thread-safe access.
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
	mu        sync.RWMutex
}

// NewProviderRegistry creates a registry over a defensive copy of providers.
func NewProviderRegistry(providers map[string]*ProviderConfig) *ProviderRegistry {
	copied := make(map[string]*ProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &ProviderRegistry{providers: copied}
}

// Get retrieves a provider configuration by name.
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Has checks whether a provider exists.
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// GetAll returns a copy of the provider map.
func (r *ProviderRegistry) GetAll() map[string]*ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ProviderConfig, len(r.providers))
	for k, v := range r.providers {
		out[k] = v
	}
	return out
}

// Names returns all provider names.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for k := range r.providers {
		names = append(names, k)
	}
	return names
}

// Len returns the number of providers.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// ModelRegistry stores the model table with thread-safe access.
type ModelRegistry struct {
	models map[string]*ModelSpec
	mu     sync.RWMutex
}

// NewModelRegistry creates a registry over a defensive copy of the table.
func NewModelRegistry(models map[string]*ModelSpec) *ModelRegistry {
	copied := make(map[string]*ModelSpec, len(models))
	for k, v := range models {
		copied[k] = v
	}
	return &ModelRegistry{models: copied}
}

// Resolve maps a public model type to its spec.
func (r *ModelRegistry) Resolve(modelType string) (*ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.models[modelType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelType)
	}
	return spec, nil
}

// Has checks whether a model type exists.
func (r *ModelRegistry) Has(modelType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[modelType]
	return ok
}

// GetAll returns a copy of the table.
func (r *ModelRegistry) GetAll() map[string]*ModelSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ModelSpec, len(r.models))
	for k, v := range r.models {
		out[k] = v
	}
	return out
}

// Len returns the number of model types.
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
