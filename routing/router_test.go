package routing

import (
	"context"
	"testing"

	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*Router, *storage.ProviderRepository, *storage.ModelRepository, *storage.SettingRepository) {
	db, err := storage.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(storage.AllModels()...))

	providers := storage.NewProviderRepository(db)
	models := storage.NewModelRepository(db)
	settings := storage.NewSettingRepository(db)
	return New(providers, settings), providers, models, settings
}

func TestRouter_ExactModelLink(t *testing.T) {
	ctx := context.Background()
	router, providers, models, _ := newTestRouter(t)

	require.NoError(t, providers.Create(ctx, &storage.Provider{ID: "only", Name: "only", Type: "local-openai-compatible", Enabled: true}, nil))
	require.NoError(t, models.Create(ctx, &storage.Model{ID: "m1", Name: "m1"}))
	require.NoError(t, models.Link(ctx, "only", "m1", true, ""))

	decision, err := router.Resolve(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "only", decision.Provider.ID)
	require.Equal(t, "model_link", decision.Reason)
}

func TestRouter_PriorityTieBreak(t *testing.T) {
	ctx := context.Background()
	router, providers, models, _ := newTestRouter(t)

	require.NoError(t, providers.Create(ctx, &storage.Provider{ID: "b", Name: "b", Type: "local-openai-compatible", Enabled: true, Priority: 10}, nil))
	require.NoError(t, providers.Create(ctx, &storage.Provider{ID: "a", Name: "a", Type: "local-openai-compatible", Enabled: true, Priority: 10}, nil))
	require.NoError(t, models.Create(ctx, &storage.Model{ID: "m1", Name: "m1"}))
	require.NoError(t, models.Link(ctx, "b", "m1", false, ""))
	require.NoError(t, models.Link(ctx, "a", "m1", false, ""))

	decision, err := router.Resolve(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "a", decision.Provider.ID, "equal priority ties break on lowest id")
}

func TestRouter_FallsBackToActiveProvider(t *testing.T) {
	ctx := context.Background()
	router, providers, _, settings := newTestRouter(t)

	require.NoError(t, providers.Create(ctx, &storage.Provider{ID: "fallback", Name: "fallback", Type: "local-openai-compatible", Enabled: true}, nil))
	_, err := settings.Set(ctx, "active_provider", "fallback")
	require.NoError(t, err)

	decision, err := router.Resolve(ctx, "unlinked-model")
	require.NoError(t, err)
	require.Equal(t, "fallback", decision.Provider.ID)
	require.Equal(t, "active_provider", decision.Reason)
}

func TestRouter_NoProviderForModel(t *testing.T) {
	ctx := context.Background()
	router, _, _, _ := newTestRouter(t)

	_, err := router.Resolve(ctx, "nothing-links-here")
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	require.Equal(t, types.ErrNoProvider, gwErr.Code)
}
