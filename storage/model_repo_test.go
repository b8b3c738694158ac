package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelRepository_UpsertAndLink_CreatesAndLinks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	providers := NewProviderRepository(db)
	models := NewModelRepository(db)

	require.NoError(t, providers.Create(ctx, &Provider{ID: "local", Name: "local", Type: "local-openai-compatible", Enabled: true}, nil))

	require.NoError(t, models.UpsertAndLink(ctx, "local", Model{ID: "llama-3", Name: "llama-3"}))

	m, err := models.Get(ctx, "llama-3")
	require.NoError(t, err)
	require.Equal(t, "llama-3", m.Name)

	links, err := models.LinksForModel(ctx, "llama-3")
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, "local", links[0].ProviderID)
}

func TestModelRepository_UpsertAndLink_PreservesExistingDefault(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	providers := NewProviderRepository(db)
	models := NewModelRepository(db)

	require.NoError(t, providers.Create(ctx, &Provider{ID: "local", Name: "local", Type: "local-openai-compatible", Enabled: true}, nil))
	require.NoError(t, models.Create(ctx, &Model{ID: "llama-3", Name: "llama-3-old"}))
	require.NoError(t, models.Link(ctx, "local", "llama-3", true, ""))

	// Re-sync: name refreshes, but the existing default link is untouched
	// (no duplicate row, is_default stays true).
	require.NoError(t, models.UpsertAndLink(ctx, "local", Model{ID: "llama-3", Name: "llama-3-new"}))

	m, err := models.Get(ctx, "llama-3")
	require.NoError(t, err)
	require.Equal(t, "llama-3-new", m.Name)

	links, err := models.LinksForModel(ctx, "llama-3")
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.True(t, links[0].IsDefault)
}
