package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// ProxySupervisor is the subset of the process supervisor's behaviour the
// control-plane HTTP layer needs. Defined here, not imported from the
// supervisor package, so this handler can be unit-tested with a fake and
// so the handlers package never depends on os/exec machinery.
type ProxySupervisor interface {
	Status(ctx context.Context) api.ProxyStatus
	Start(ctx context.Context) (api.ProxyStatus, error)
	Stop(ctx context.Context) (api.ProxyStatus, error)
}

// ProxyHandler serves /api/health and the /api/proxy/* lifecycle endpoints.
type ProxyHandler struct {
	supervisor ProxySupervisor
	service    string
	logger     *zap.Logger
}

// NewProxyHandler builds a ProxyHandler. service names the process
// reporting health (e.g. "control-plane") for the /api/health payload.
func NewProxyHandler(supervisor ProxySupervisor, service string, logger *zap.Logger) *ProxyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyHandler{supervisor: supervisor, service: service, logger: logger}
}

// HandleHealth serves GET /api/health.
func (h *ProxyHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   h.service,
		"timestamp": time.Now(),
	})
}

// HandleStatus serves GET /api/proxy/status.
func (h *ProxyHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.supervisor.Status(r.Context()))
}

// HandleStart serves POST /api/proxy/start.
func (h *ProxyHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	status, err := h.supervisor.Start(r.Context())
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to start proxy: "+err.Error(), h.logger)
		return
	}
	WriteSuccess(w, status)
}

// HandleStop serves POST /api/proxy/stop.
func (h *ProxyHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	status, err := h.supervisor.Stop(r.Context())
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to stop proxy: "+err.Error(), h.logger)
		return
	}
	WriteSuccess(w, status)
}
