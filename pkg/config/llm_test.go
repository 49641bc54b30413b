package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRegistry(t *testing.T) {
	registry := NewProviderRegistry(builtinProviders())

	p, err := registry.Get("groq")
	require.NoError(t, err)
	assert.Equal(t, ProviderGroq, p.Type)
	assert.Equal(t, "https://api.groq.com/openai/v1", p.BaseURL)

	_, err = registry.Get("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	assert.True(t, registry.Has("anthropic"))
	assert.False(t, registry.Has("missing"))
	assert.Len(t, registry.Names(), registry.Len())
}

func TestModelRegistryResolve(t *testing.T) {
	registry := NewModelRegistry(builtinModelTable())

	spec, err := registry.Resolve("claude-sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", spec.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", spec.ResolvedModel)
	assert.Equal(t, TierPremium, spec.Tier)

	_, err = registry.Resolve("gpt-99")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestModelRegistryDefensiveCopy(t *testing.T) {
	source := builtinModelTable()
	registry := NewModelRegistry(source)

	delete(source, "gpt-4o-mini")
	assert.True(t, registry.Has("gpt-4o-mini"))
}

func TestEstimateCostUSD(t *testing.T) {
	spec := &ModelSpec{InputPricePerMTok: 3.00, OutputPricePerMTok: 15.00}

	// 1M prompt tokens at $3 plus 200k completion tokens at $15.
	cost := spec.EstimateCostUSD(1_000_000, 200_000)
	assert.InDelta(t, 6.0, cost, 1e-9)

	assert.Zero(t, spec.EstimateCostUSD(0, 0))
}

func TestFreeTierModels(t *testing.T) {
	table := builtinModelTable()

	freeTier := 0
	for _, spec := range table {
		if spec.FreeTierDailyCalls > 0 {
			freeTier++
		}
	}
	assert.Equal(t, 3, freeTier)
	assert.Equal(t, 14400, table["llama-3.1-8b"].FreeTierDailyCalls)
	assert.Equal(t, 1500, table["gemini-flash"].FreeTierDailyCalls)
}
