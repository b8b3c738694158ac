// Package webchat implements the web-chat bridge (W): an OpenAI-compatible
// HTTP surface backed by an authenticated upstream chat service, translating
// its create-chat/send-message/parent-id protocol into the same wire shape
// every other provider speaks. It opens its own short-lived DB connections
// (credential read-through, session read/write) rather than sharing the
// gateway's in-process handles, so it can be started, stopped and
// redeployed independently of it.
package webchat

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// credentials is the unmasked singleton read on every request; never
// logged or serialized as-is.
type credentials struct {
	token   string
	cookies string
}

// fetchCredentials reads the current credential row and rejects it with
// auth_missing unless both fields are present and unexpired.
func fetchCredentials(ctx context.Context, repo *storage.CredentialRepository, logger *zap.Logger) (*credentials, *types.Error) {
	row, err := repo.Get(ctx)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, types.NewError(types.ErrAuthMissing, "no web-chat credentials configured").WithHTTPStatus(401)
		}
		return nil, types.NewError(types.ErrPersistence, "failed to read credentials").WithCause(err)
	}
	if !row.Valid(time.Now()) {
		return nil, types.NewError(types.ErrAuthMissing, "web-chat credentials are absent or expired").WithHTTPStatus(401)
	}
	decodeJWTWarning(logger, row.Token, row.ExpiresAt)
	return &credentials{token: row.Token, cookies: row.Cookies}, nil
}

// tokenPreview exposes only the first 20 characters of a bearer token, the
// same preview shown by the control plane's masked credential status.
func tokenPreview(token string) string {
	if len(token) <= 20 {
		return token
	}
	return token[:20] + "..."
}

// cookiePreview exposes only the name of the first cookie, never its value.
func cookiePreview(cookies string) string {
	first := strings.SplitN(cookies, ";", 2)[0]
	name := strings.SplitN(strings.TrimSpace(first), "=", 2)[0]
	return name
}

// decodeJWTWarning decodes (never verifies, the bridge is not the token's
// issuer) the bearer token's claims purely to cross-check its exp claim
// against the stored expiresAt. The stored value is authoritative for the
// liveness check; a JWT claim that predates it only earns a log line.
func decodeJWTWarning(logger *zap.Logger, token string, storedExpiresAt *int64) {
	if token == "" {
		return
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if storedExpiresAt != nil && exp.Unix() < *storedExpiresAt {
		logger.Warn("web-chat token's own exp claim predates the stored credential expiry",
			zap.Int64("jwt_exp", exp.Unix()), zap.Int64("stored_expires_at", *storedExpiresAt))
	}
}
