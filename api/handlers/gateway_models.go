package handlers

import (
	"net/http"

	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// GatewayModelsHandler serves the OpenAI-compatible `/v1/models` surface:
// the catalog of models configured in the system, not a live call-through
// to any single provider.
type GatewayModelsHandler struct {
	models *storage.ModelRepository
	logger *zap.Logger
}

// NewGatewayModelsHandler builds a GatewayModelsHandler.
func NewGatewayModelsHandler(models *storage.ModelRepository, logger *zap.Logger) *GatewayModelsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayModelsHandler{models: models, logger: logger}
}

type gatewayModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// HandleList serves GET /v1/models.
func (h *GatewayModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.List(r.Context(), "", "")
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to list models", h.logger)
		return
	}
	data := make([]gatewayModelEntry, len(models))
	for i := range models {
		data[i] = gatewayModelEntry{ID: models[i].ID, Object: "model", OwnedBy: "gateway"}
	}
	WriteJSON(w, http.StatusOK, struct {
		Object string              `json:"object"`
		Data   []gatewayModelEntry `json:"data"`
	}{Object: "list", Data: data})
}

// HandleGet serves GET /v1/models/:id.
func (h *GatewayModelsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.models.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "model not found", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, gatewayModelEntry{ID: m.ID, Object: "model", OwnedBy: "gateway"})
}
