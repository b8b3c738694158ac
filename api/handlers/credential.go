package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// CredentialHandler serves /api/qwen/credentials: the web-chat bridge's
// singleton credential resource. Values are never echoed back in full —
// only previews — and the rule the rest of this codebase follows for
// never logging raw credentials extends here to never returning them over
// the wire either.
type CredentialHandler struct {
	credentials *storage.CredentialRepository
	events      EventNotifier
	logger      *zap.Logger
}

// NewCredentialHandler builds a CredentialHandler.
func NewCredentialHandler(credentials *storage.CredentialRepository, events EventNotifier, logger *zap.Logger) *CredentialHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialHandler{credentials: credentials, events: events, logger: logger}
}

// tokenPreview returns the first 20 characters of a JWT, never the full
// value.
func tokenPreview(token string) string {
	if len(token) <= 20 {
		return token
	}
	return token[:20] + "..."
}

// cookiePreview returns only the name of the first cookie, never its value.
func cookiePreview(cookies string) string {
	first := strings.SplitN(cookies, ";", 2)[0]
	name := strings.SplitN(strings.TrimSpace(first), "=", 2)[0]
	return name
}

// decodeJWTWarning parses (without verifying — the bridge is not the
// issuer) a JWT's exp claim and logs a warning if it is earlier than the
// stored expiresAt.
func decodeJWTWarning(logger *zap.Logger, token string, storedExpiresAt *int64) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if storedExpiresAt != nil && exp.Unix() < *storedExpiresAt {
		logger.Warn("JWT exp claim predates stored expiresAt",
			zap.Int64("jwt_exp", exp.Unix()),
			zap.Int64("stored_expires_at", *storedExpiresAt))
	}
}

// HandleGet serves GET /api/qwen/credentials.
func (h *CredentialHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.credentials.Get(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		WriteSuccess(w, api.CredentialStatus{HasCredentials: false})
		return
	}
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to read credentials", h.logger)
		return
	}
	now := time.Now()
	status := api.CredentialStatus{
		HasCredentials: true,
		IsValid:        c.Valid(now),
		IsExpired:      !c.Valid(now),
		ExpiresAt:      c.ExpiresAt,
		TokenPreview:   tokenPreview(c.Token),
		CookiePreview:  cookiePreview(c.Cookies),
		CreatedAt:      &c.CreatedAt,
		UpdatedAt:      &c.UpdatedAt,
	}
	WriteSuccess(w, status)
}

// HandleSet serves POST /api/qwen/credentials.
func (h *CredentialHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req api.SetCredentialRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if req.Token == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "token is required", h.logger)
		return
	}
	decodeJWTWarning(h.logger, req.Token, req.ExpiresAt)
	c, err := h.credentials.Set(r.Context(), req.Token, req.Cookies, req.ExpiresAt)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to store credentials", h.logger)
		return
	}
	now := time.Now()
	valid := c.Valid(now)
	notifyCredentials(h.events, "updated", valid, c.ExpiresAt, true)
	WriteJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data: api.CredentialStatus{
			HasCredentials: true,
			IsValid:        valid,
			IsExpired:      !valid,
			ExpiresAt:      c.ExpiresAt,
			TokenPreview:   tokenPreview(c.Token),
			CookiePreview:  cookiePreview(c.Cookies),
			CreatedAt:      &c.CreatedAt,
			UpdatedAt:      &c.UpdatedAt,
		},
		Timestamp: time.Now(),
	})
}

// HandleDelete serves DELETE /api/qwen/credentials.
func (h *CredentialHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.credentials.Delete(r.Context()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to delete credentials", h.logger)
		return
	}
	notifyCredentials(h.events, "deleted", false, nil, false)
	WriteSuccess(w, map[string]bool{"deleted": true})
}
