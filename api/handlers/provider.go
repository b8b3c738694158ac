package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/providerfactory"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// providerIDPattern enforces the provider id validation rule.
var providerIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ProviderHandler serves the /api/providers resource tree: CRUD, the
// enable/disable/test/reload lifecycle actions, and the per-provider
// config sub-resource. Follows the same PathValue routing and
// masked-value semantics as the api-key CRUD handler, retargeted at the
// gateway's string-keyed Provider entity.
type ProviderHandler struct {
	providers *storage.ProviderRepository
	registry  *providerfactory.LiveRegistry
	events    EventNotifier
	logger    *zap.Logger
}

// NewProviderHandler builds a ProviderHandler.
func NewProviderHandler(providers *storage.ProviderRepository, registry *providerfactory.LiveRegistry, events EventNotifier, logger *zap.Logger) *ProviderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderHandler{providers: providers, registry: registry, events: events, logger: logger}
}

// invalidate drops the cached live provider instance for id.
func (h *ProviderHandler) invalidate(id string) {
	h.registry.Invalidate(id)
}

func toGatewayProvider(p *storage.Provider) api.GatewayProvider {
	return api.GatewayProvider{
		ID:          p.ID,
		Name:        p.Name,
		Type:        p.Type,
		Enabled:     p.Enabled,
		Priority:    p.Priority,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (h *ProviderHandler) summary(r *http.Request) (total, enabled int) {
	all, err := h.providers.List(r.Context(), "", nil)
	if err != nil {
		return 0, 0
	}
	total = len(all)
	for _, p := range all {
		if p.Enabled {
			enabled++
		}
	}
	return total, enabled
}

// HandleList serves GET /api/providers.
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	typeFilter := r.URL.Query().Get("type")
	var enabledFilter *bool
	if v := r.URL.Query().Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "enabled must be a boolean", h.logger)
			return
		}
		enabledFilter = &b
	}
	providers, err := h.providers.List(r.Context(), typeFilter, enabledFilter)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to list providers", h.logger)
		return
	}
	out := make([]api.GatewayProvider, len(providers))
	for i := range providers {
		out[i] = toGatewayProvider(&providers[i])
	}
	WriteSuccess(w, out)
}

// HandleGet serves GET /api/providers/:id.
func (h *ProviderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.providers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	WriteSuccess(w, toGatewayProvider(p))
}

// HandleCreate serves POST /api/providers.
func (h *ProviderHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateProviderRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if !providerIDPattern.MatchString(req.ID) {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "id must match ^[a-z0-9-]+$", h.logger)
		return
	}
	if req.Name == "" || req.Type == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "name and type are required", h.logger)
		return
	}
	p := &storage.Provider{
		ID:          req.ID,
		Name:        req.Name,
		Type:        req.Type,
		Enabled:     true,
		Description: req.Description,
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if req.Priority != nil {
		p.Priority = *req.Priority
	}
	config := make(map[string]storage.ProviderConfigEntryValue, len(req.Config))
	for k, v := range req.Config {
		config[k] = storage.ProviderConfigEntryValue{Value: v, IsSensitive: isSensitiveConfigKey(k)}
	}
	if err := h.providers.Create(r.Context(), p, config); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to create provider", h.logger)
		return
	}
	total, enabled := h.summary(r)
	notifyProviders(h.events, "created", p.ID, total, enabled)
	WriteJSON(w, http.StatusCreated, api.Response{Success: true, Data: toGatewayProvider(p), Timestamp: time.Now()})
}

// isSensitiveConfigKey flags config keys the UI should mask by default.
func isSensitiveConfigKey(key string) bool {
	switch key {
	case "apiKey", "api_key", "secretKey", "secret_key", "token":
		return true
	default:
		return false
	}
}

// HandleUpdate serves PUT /api/providers/:id.
func (h *ProviderHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req api.UpdateProviderRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	updates := map[string]any{"updated_at": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	p, err := h.providers.Update(r.Context(), id, updates)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.invalidate(id)
	total, enabled := h.summary(r)
	notifyProviders(h.events, "updated", id, total, enabled)
	WriteSuccess(w, toGatewayProvider(p))
}

// HandleDelete serves DELETE /api/providers/:id.
func (h *ProviderHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.providers.Delete(r.Context(), id); err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.invalidate(id)
	total, enabled := h.summary(r)
	notifyProviders(h.events, "deleted", id, total, enabled)
	WriteSuccess(w, map[string]bool{"deleted": true})
}

// HandleEnable serves POST /api/providers/:id/enable. Enabling an
// already-enabled provider is a no-op.
func (h *ProviderHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true, "enabled")
}

// HandleDisable serves POST /api/providers/:id/disable.
func (h *ProviderHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false, "disabled")
}

func (h *ProviderHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool, action string) {
	id := r.PathValue("id")
	p, err := h.providers.SetEnabled(r.Context(), id, enabled)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.invalidate(id)
	total, enabledCount := h.summary(r)
	notifyProviders(h.events, action, id, total, enabledCount)
	WriteSuccess(w, toGatewayProvider(p))
}

// HandleTest serves POST /api/providers/:id/test: builds (or reuses) the
// live provider instance and runs its health check.
func (h *ProviderHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	start := time.Now()
	provider, err := h.registry.Get(r.Context(), id)
	if err != nil {
		WriteJSON(w, http.StatusOK, api.Response{
			Success:   true,
			Data:      api.ProviderTestResult{OK: false, LatencyMS: time.Since(start).Milliseconds(), Message: err.Error()},
			Timestamp: time.Now(),
		})
		return
	}
	status, err := provider.HealthCheck(r.Context())
	result := api.ProviderTestResult{LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		result.OK = false
		result.Message = err.Error()
	} else {
		result.OK = status.Healthy
		if !status.Healthy {
			result.Message = "provider reported unhealthy"
		}
	}
	WriteSuccess(w, result)
}

// HandleReload serves POST /api/providers/:id/reload: drops the cached
// provider instance so the next use rebuilds it from current config.
func (h *ProviderHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.providers.Get(r.Context(), id); err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.invalidate(id)
	WriteSuccess(w, map[string]bool{"reloaded": true})
}

// HandleGetConfig serves GET /api/providers/:id/config. Sensitive values
// are masked unless ?mask=false.
func (h *ProviderHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mask := true
	if v := r.URL.Query().Get("mask"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			mask = b
		}
	}
	entries, err := h.providers.GetConfig(r.Context(), id, mask)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to read provider config", h.logger)
		return
	}
	out := make([]api.ProviderConfigEntry, len(entries))
	for i, e := range entries {
		out[i] = api.ProviderConfigEntry{Key: e.Key, Value: e.Value, IsSensitive: e.IsSensitive}
	}
	WriteSuccess(w, out)
}

// HandlePutConfig serves PUT /api/providers/:id/config: replaces the full
// config set in one transaction.
func (h *ProviderHandler) HandlePutConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body map[string]string
	if DecodeJSONBody(w, r, &body, h.logger) != nil {
		return
	}
	config := make(map[string]storage.ProviderConfigEntryValue, len(body))
	for k, v := range body {
		config[k] = storage.ProviderConfigEntryValue{Value: v, IsSensitive: isSensitiveConfigKey(k)}
	}
	if err := h.providers.PutConfig(r.Context(), id, config); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to write provider config", h.logger)
		return
	}
	h.invalidate(id)
	notifyProviders(h.events, "updated", id, 0, 0)
	WriteSuccess(w, map[string]bool{"updated": true})
}

// HandlePatchConfigKey serves PATCH /api/providers/:id/config/:key.
func (h *ProviderHandler) HandlePatchConfigKey(w http.ResponseWriter, r *http.Request) {
	id, key := r.PathValue("id"), r.PathValue("key")
	var body struct {
		Value       string `json:"value"`
		IsSensitive *bool  `json:"is_sensitive,omitempty"`
	}
	if DecodeJSONBody(w, r, &body, h.logger) != nil {
		return
	}
	sensitive := isSensitiveConfigKey(key)
	if body.IsSensitive != nil {
		sensitive = *body.IsSensitive
	}
	if err := h.providers.PatchConfigKey(r.Context(), id, key, storage.ProviderConfigEntryValue{Value: body.Value, IsSensitive: sensitive}); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to patch provider config key", h.logger)
		return
	}
	h.invalidate(id)
	notifyProviders(h.events, "updated", id, 0, 0)
	WriteSuccess(w, map[string]bool{"updated": true})
}

// HandleDeleteConfigKey serves DELETE /api/providers/:id/config/:key.
func (h *ProviderHandler) HandleDeleteConfigKey(w http.ResponseWriter, r *http.Request) {
	id, key := r.PathValue("id"), r.PathValue("key")
	if err := h.providers.DeleteConfigKey(r.Context(), id, key); err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.invalidate(id)
	notifyProviders(h.events, "updated", id, 0, 0)
	WriteSuccess(w, map[string]bool{"deleted": true})
}

func (h *ProviderHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "provider not found", h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "provider lookup failed", h.logger)
}
