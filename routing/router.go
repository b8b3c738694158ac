// Package routing selects which provider should serve a chat-completions
// request. Selection is deterministic: the same (model, linked providers,
// active_provider setting) always resolves to the same provider, with no
// randomness or load-based steering.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
)

// activeProviderSettingKey is the Setting row consulted when a model isn't
// linked to any provider.
const activeProviderSettingKey = "active_provider"

// Router resolves an OpenAI-shaped chat request to a concrete provider id.
type Router struct {
	providers *storage.ProviderRepository
	settings  *storage.SettingRepository
	limiter   *Limiter
}

// New creates a Router over the given repositories.
func New(providers *storage.ProviderRepository, settings *storage.SettingRepository) *Router {
	return &Router{providers: providers, settings: settings, limiter: NewLimiter()}
}

// Decision is the outcome of a routing pass: the selected provider, plus
// whether the decision came from an exact model link (so the caller can
// log why this provider was picked).
type Decision struct {
	Provider *storage.Provider
	Reason   string
}

// Resolve implements the four-rule selection order from the routing spec:
//  1. If exactly one enabled provider is linked to the model, use it.
//  2. If several are linked, the highest-priority one wins; ties break on
//     the lexicographically lowest provider id.
//  3. Otherwise fall back to the active_provider setting.
//  4. If nothing resolves, fail with ErrNoProvider.
func (r *Router) Resolve(ctx context.Context, model string) (*Decision, error) {
	linked, err := r.providers.ListLinkedProviders(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("resolve provider for model %s: %w", model, err)
	}
	if len(linked) > 0 {
		// ListLinkedProviders already orders by priority desc, id asc, so
		// the first row is both the unique-match and the tie-break winner.
		chosen := linked[0]
		reason := "model_link"
		if len(linked) > 1 {
			reason = "model_link_priority"
		}
		r.ensureLimiter(ctx, &chosen)
		return &Decision{Provider: &chosen, Reason: reason}, nil
	}

	active, err := r.settings.Get(ctx, activeProviderSettingKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read active_provider setting: %w", err)
	}
	if active != nil && active.Value != "" {
		p, err := r.providers.Get(ctx, active.Value)
		if err == nil && p.Enabled {
			r.ensureLimiter(ctx, p)
			return &Decision{Provider: p, Reason: "active_provider"}, nil
		}
	}

	return nil, &types.Error{
		Code:    types.ErrNoProvider,
		Message: fmt.Sprintf("no provider available for model %q", model),
	}
}

// Wait blocks until the per-provider outbound-call limiter admits the next
// call to providerID, or ctx is done. Callers dispatch the actual upstream
// call only after Wait returns nil.
func (r *Router) Wait(ctx context.Context, providerID string) error {
	return r.limiter.Wait(ctx, providerID)
}

// InvalidateLimiter drops the cached rate-limit config for providerID so
// the next Resolve re-reads it from the provider's config (e.g. after a
// control-plane config update).
func (r *Router) InvalidateLimiter(providerID string) {
	r.limiter.Remove(providerID)
}

// ensureLimiter configures p's outbound-call limiter from its stored
// config the first time p is resolved, so later requests against the
// same provider reuse the already-built token bucket instead of
// re-reading config on every call.
func (r *Router) ensureLimiter(ctx context.Context, p *storage.Provider) {
	if r.limiter.has(p.ID) {
		return
	}
	cfg, err := r.providers.GetConfigMap(ctx, p.ID)
	if err != nil {
		r.limiter.Configure(p.ID, 0, 0)
		return
	}
	rps, burst := parseRateConfig(cfg)
	r.limiter.Configure(p.ID, rps, burst)
}
