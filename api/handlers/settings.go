package handlers

import (
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// criticalSettingValidators enforces extra validation for a
// small set of settings that can break the running process if malformed.
// Every other key is accepted without type checks.
var criticalSettingValidators = map[string]func(string) error{
	"server.port": func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 65535 {
			return errors.New("server.port must be an integer between 1 and 65535")
		}
		return nil
	},
	"server.host": func(v string) error {
		if v == "localhost" || net.ParseIP(v) != nil {
			return nil
		}
		// A hostname's last label starts with a letter, so a malformed
		// dotted-quad such as "300.1.1.1" is not accepted as a name.
		hostname := regexp.MustCompile(`^([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?\.)*[A-Za-z]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
		if len(v) <= 253 && hostname.MatchString(v) {
			return nil
		}
		return errors.New("server.host must be an IP address or a hostname")
	},
	"server.timeout": func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1000 || n > 600000 {
			return errors.New("server.timeout must be between 1000 and 600000 ms")
		}
		return nil
	},
	"logging.level": func(v string) error {
		switch v {
		case "debug", "info", "warn", "error":
			return nil
		}
		return errors.New("logging.level must be one of debug, info, warn, error")
	},
}

func validateSetting(key, value string) error {
	if v, ok := criticalSettingValidators[key]; ok {
		return v(value)
	}
	return nil
}

// SettingsHandler serves the /api/settings resource tree.
type SettingsHandler struct {
	settings *storage.SettingRepository
	logger   *zap.Logger
}

// NewSettingsHandler builds a SettingsHandler.
func NewSettingsHandler(settings *storage.SettingRepository, logger *zap.Logger) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{settings: settings, logger: logger}
}

// HandleList serves GET /api/settings, with an optional "category" filter
// that matches a key prefix.
func (h *SettingsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("category")
	settings, err := h.settings.List(r.Context(), prefix)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to list settings", h.logger)
		return
	}
	out := make([]api.SettingEntry, len(settings))
	for i, s := range settings {
		out[i] = api.SettingEntry{Key: s.Key, Value: s.Value}
	}
	WriteSuccess(w, out)
}

// HandleGet serves GET /api/settings/:key.
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context(), r.PathValue("key"))
	if errors.Is(err, storage.ErrNotFound) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "setting not found", h.logger)
		return
	}
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to read setting", h.logger)
		return
	}
	WriteSuccess(w, api.SettingEntry{Key: s.Key, Value: s.Value})
}

// HandlePut serves PUT /api/settings/:key.
func (h *SettingsHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var body struct {
		Value string `json:"value"`
	}
	if DecodeJSONBody(w, r, &body, h.logger) != nil {
		return
	}
	if err := validateSetting(key, body.Value); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}
	s, err := h.settings.Set(r.Context(), key, body.Value)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to write setting", h.logger)
		return
	}
	WriteSuccess(w, api.SettingEntry{Key: s.Key, Value: s.Value})
}

// HandleDelete serves DELETE /api/settings/:key.
func (h *SettingsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.settings.Delete(r.Context(), key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "setting not found", h.logger)
			return
		}
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to delete setting", h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"deleted": true})
}

// HandleBulk serves POST /api/settings/bulk.
func (h *SettingsHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	var req api.BulkSettingsRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	for key, value := range req.Settings {
		if err := validateSetting(key, value); err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, key+": "+err.Error(), h.logger)
			return
		}
	}
	if err := h.settings.BulkSet(r.Context(), req.Settings); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to bulk-write settings", h.logger)
		return
	}
	WriteSuccess(w, map[string]int{"updated": len(req.Settings)})
}
