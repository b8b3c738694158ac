package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/internal/pool"
	"github.com/BaSui01/agentflow/providerfactory"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// ModelHandler serves the /api/models resource tree.
type ModelHandler struct {
	models    *storage.ModelRepository
	providers *storage.ProviderRepository
	registry  *providerfactory.LiveRegistry
	events    EventNotifier
	logger    *zap.Logger
}

// NewModelHandler builds a ModelHandler. providers and registry back
// HandleSync's provider-model discovery; they may be nil if the caller
// never wires up POST /api/models/sync.
func NewModelHandler(models *storage.ModelRepository, providers *storage.ProviderRepository, registry *providerfactory.LiveRegistry, events EventNotifier, logger *zap.Logger) *ModelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandler{models: models, providers: providers, registry: registry, events: events, logger: logger}
}

func toGatewayModel(m *storage.Model) api.GatewayModel {
	var caps []string
	if m.Capabilities != "" {
		caps = strings.Split(m.Capabilities, ",")
		for i := range caps {
			caps[i] = strings.TrimSpace(caps[i])
		}
	}
	return api.GatewayModel{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Capabilities: caps,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func (h *ModelHandler) total(r *http.Request) int {
	all, err := h.models.List(r.Context(), "", "")
	if err != nil {
		return 0
	}
	return len(all)
}

// HandleList serves GET /api/models.
func (h *ModelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	provider := r.URL.Query().Get("provider")
	models, err := h.models.List(r.Context(), capability, provider)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to list models", h.logger)
		return
	}
	out := make([]api.GatewayModel, len(models))
	for i := range models {
		out[i] = toGatewayModel(&models[i])
	}
	WriteSuccess(w, out)
}

// HandleGet serves GET /api/models/:id.
func (h *ModelHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.models.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	WriteSuccess(w, toGatewayModel(m))
}

// HandleCreate serves POST /api/models.
func (h *ModelHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Description  string   `json:"description,omitempty"`
		Capabilities []string `json:"capabilities,omitempty"`
	}
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if req.ID == "" || req.Name == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "id and name are required", h.logger)
		return
	}
	m := &storage.Model{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		Capabilities: strings.Join(req.Capabilities, ","),
	}
	if err := h.models.Create(r.Context(), m); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to create model", h.logger)
		return
	}
	notifyModels(h.events, "created", m.ID, h.total(r))
	WriteJSON(w, http.StatusCreated, api.Response{Success: true, Data: toGatewayModel(m), Timestamp: time.Now()})
}

// HandleUpdate serves PUT /api/models/:id.
func (h *ModelHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Name         *string   `json:"name,omitempty"`
		Description  *string   `json:"description,omitempty"`
		Capabilities *[]string `json:"capabilities,omitempty"`
	}
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	updates := map[string]any{"updated_at": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Capabilities != nil {
		updates["capabilities"] = strings.Join(*req.Capabilities, ",")
	}
	m, err := h.models.Update(r.Context(), id, updates)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	notifyModels(h.events, "updated", id, h.total(r))
	WriteSuccess(w, toGatewayModel(m))
}

// HandleDelete serves DELETE /api/models/:id.
func (h *ModelHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.models.Delete(r.Context(), id); err != nil {
		h.writeLookupError(w, err)
		return
	}
	notifyModels(h.events, "deleted", id, h.total(r))
	WriteSuccess(w, map[string]bool{"deleted": true})
}

// HandleLink serves POST /api/models/:id/link: links the model to the
// provider named in the body, optionally as that provider's default.
func (h *ModelHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	var req struct {
		ProviderID string `json:"provider_id"`
		IsDefault  bool   `json:"is_default,omitempty"`
		Config     string `json:"config,omitempty"`
	}
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if req.ProviderID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "provider_id is required", h.logger)
		return
	}
	if err := h.models.Link(r.Context(), req.ProviderID, modelID, req.IsDefault, req.Config); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to link provider to model", h.logger)
		return
	}
	notifyModels(h.events, "updated", modelID, h.total(r))
	WriteSuccess(w, map[string]bool{"linked": true})
}

// HandleUnlink serves POST /api/models/:id/unlink: removes the link between
// the model and the provider named in the body.
func (h *ModelHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	var req struct {
		ProviderID string `json:"provider_id"`
	}
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if req.ProviderID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "provider_id is required", h.logger)
		return
	}
	if err := h.models.Unlink(r.Context(), req.ProviderID, modelID); err != nil {
		h.writeLookupError(w, err)
		return
	}
	notifyModels(h.events, "updated", modelID, h.total(r))
	WriteSuccess(w, map[string]bool{"unlinked": true})
}

// syncOutcome reports one provider's result from HandleSync.
type syncOutcome struct {
	ProviderID string `json:"provider_id"`
	Synced     int    `json:"synced"`
	Error      string `json:"error,omitempty"`
}

// HandleSync serves POST /api/models/sync: fans out to every enabled
// provider (or a single one via ?provider=) and asks each for its live
// model listing, upserting and linking what it reports. A bounded
// goroutine pool caps how many providers are queried concurrently so one
// slow upstream can't starve the others.
func (h *ModelHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if h.providers == nil || h.registry == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrInternalError, "model sync is not configured", h.logger)
		return
	}

	providerFilter := r.URL.Query().Get("provider")
	enabled := true
	rows, err := h.providers.List(r.Context(), "", &enabled)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to list providers", h.logger)
		return
	}

	var targets []storage.Provider
	for _, p := range rows {
		if providerFilter != "" && p.ID != providerFilter {
			continue
		}
		targets = append(targets, p)
	}

	workers := pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers:  8,
		QueueSize:   len(targets) + 1,
		IdleTimeout: 30 * time.Second,
	})
	defer workers.Close()

	var (
		mu      sync.Mutex
		results []syncOutcome
		wg      sync.WaitGroup
	)

	for _, p := range targets {
		p := p
		wg.Add(1)
		submitErr := workers.Submit(r.Context(), func(ctx context.Context) error {
			defer wg.Done()
			outcome := h.syncProvider(ctx, p)
			mu.Lock()
			results = append(results, outcome)
			mu.Unlock()
			return nil
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			results = append(results, syncOutcome{ProviderID: p.ID, Error: submitErr.Error()})
			mu.Unlock()
		}
	}
	wg.Wait()

	notifyModels(h.events, "synced", "", h.total(r))
	WriteSuccess(w, map[string]any{"results": results})
}

func (h *ModelHandler) syncProvider(ctx context.Context, p storage.Provider) syncOutcome {
	outcome := syncOutcome{ProviderID: p.ID}

	provider, err := h.registry.Get(ctx, p.ID)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	models, err := provider.ListModels(ctx)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	for _, m := range models {
		row := storage.Model{ID: m.ID, Name: m.ID}
		if err := h.models.UpsertAndLink(ctx, p.ID, row); err != nil {
			outcome.Error = err.Error()
			return outcome
		}
		outcome.Synced++
	}
	return outcome
}

func (h *ModelHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "model not found", h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "model lookup failed", h.logger)
}
