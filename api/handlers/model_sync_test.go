package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/agentflow/providerfactory"
	"github.com/BaSui01/agentflow/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSyncTestDB(t *testing.T) *gorm.DB {
	db, err := storage.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(storage.AllModels()...))
	return db
}

// TestModelHandler_HandleSync_SyncsFromLiveProvider exercises the full path:
// an enabled provider backed by a real HTTP models endpoint is queried
// concurrently via the goroutine pool, and the reported model is upserted
// and linked.
func TestModelHandler_HandleSync_SyncsFromLiveProvider(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "llama-3-8b", "object": "model", "owned_by": "local"},
			},
		})
	}))
	defer upstream.Close()

	db := newSyncTestDB(t)
	providerRepo := storage.NewProviderRepository(db)
	modelRepo := storage.NewModelRepository(db)
	registry := providerfactory.NewLiveRegistry(providerRepo, zap.NewNop())

	ctx := t.Context()
	require.NoError(t, providerRepo.Create(ctx, &storage.Provider{
		ID: "local", Name: "local", Type: "local-openai-compatible", Enabled: true,
	}, map[string]storage.ProviderConfigEntryValue{
		"baseURL": {Value: upstream.URL},
	}))

	handler := NewModelHandler(modelRepo, providerRepo, registry, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/models/sync", nil)
	handler.HandleSync(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	m, err := modelRepo.Get(ctx, "llama-3-8b")
	require.NoError(t, err)
	assert.Equal(t, "llama-3-8b", m.ID)

	links, err := modelRepo.LinksForModel(ctx, "llama-3-8b")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "local", links[0].ProviderID)
}

func TestModelHandler_HandleSync_NotConfigured(t *testing.T) {
	db := newSyncTestDB(t)
	modelRepo := storage.NewModelRepository(db)
	handler := NewModelHandler(modelRepo, nil, nil, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/models/sync", nil)
	handler.HandleSync(w, r)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
