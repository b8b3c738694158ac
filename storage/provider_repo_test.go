package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderRepository_ListLinkedProviders_PriorityOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	providers := NewProviderRepository(db)
	models := NewModelRepository(db)

	require.NoError(t, providers.Create(ctx, &Provider{ID: "low", Name: "low", Type: "local-openai-compatible", Enabled: true, Priority: 1}, nil))
	require.NoError(t, providers.Create(ctx, &Provider{ID: "high-a", Name: "high-a", Type: "local-openai-compatible", Enabled: true, Priority: 5}, nil))
	require.NoError(t, providers.Create(ctx, &Provider{ID: "high-b", Name: "high-b", Type: "local-openai-compatible", Enabled: true, Priority: 5}, nil))
	require.NoError(t, providers.Create(ctx, &Provider{ID: "disabled", Name: "disabled", Type: "local-openai-compatible", Enabled: false, Priority: 9}, nil))

	require.NoError(t, models.Create(ctx, &Model{ID: "gpt-x", Name: "gpt-x"}))
	require.NoError(t, models.Link(ctx, "low", "gpt-x", false, ""))
	require.NoError(t, models.Link(ctx, "high-a", "gpt-x", false, ""))
	require.NoError(t, models.Link(ctx, "high-b", "gpt-x", false, ""))
	require.NoError(t, models.Link(ctx, "disabled", "gpt-x", false, ""))

	linked, err := providers.ListLinkedProviders(ctx, "gpt-x")
	require.NoError(t, err)
	require.Len(t, linked, 3, "disabled provider must be excluded")

	// Highest priority first; ties break on lowest id lexicographically.
	require.Equal(t, "high-a", linked[0].ID)
	require.Equal(t, "high-b", linked[1].ID)
	require.Equal(t, "low", linked[2].ID)
}

func TestProviderRepository_GetConfig_MasksSensitive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	providers := NewProviderRepository(db)

	require.NoError(t, providers.Create(ctx, &Provider{ID: "hosted", Name: "hosted", Type: "hosted-openai-compatible", Enabled: true}, map[string]ProviderConfigEntryValue{
		"baseURL": {Value: "https://api.example.com"},
		"apiKey":  {Value: "sk-secret", IsSensitive: true},
	}))

	masked, err := providers.GetConfig(ctx, "hosted", true)
	require.NoError(t, err)
	byKey := map[string]ProviderConfig{}
	for _, e := range masked {
		byKey[e.Key] = e
	}
	require.Equal(t, "https://api.example.com", byKey["baseURL"].Value)
	require.Equal(t, MaskedValue, byKey["apiKey"].Value)

	raw, err := providers.GetConfigMap(ctx, "hosted")
	require.NoError(t, err)
	require.Equal(t, "sk-secret", raw["apiKey"])
}
