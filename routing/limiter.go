package routing

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// DefaultLimiterRPS and DefaultLimiterBurst apply to a provider that
// declares no explicit rateLimitRPS/rateLimitBurst config.
const (
	DefaultLimiterRPS   = 10.0
	DefaultLimiterBurst = 20
)

// Limiter is a per-process token-bucket limiter over outbound calls to a
// single upstream provider, sized by that provider's own config. It is
// distinct from the gateway's Non-goal of rate-limiting external clients
// (spec §1): this throttles the gateway's own fan-out to a single,
// possibly flaky or capacity-limited upstream, never requests arriving at
// the gateway itself.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates an empty per-provider limiter registry.
func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Configure sets (or replaces) the token-bucket rate/burst for a provider
// id. rps<=0 or burst<=0 fall back to the package defaults.
func (l *Limiter) Configure(providerID string, rps float64, burst int) {
	if rps <= 0 {
		rps = DefaultLimiterRPS
	}
	if burst <= 0 {
		burst = DefaultLimiterBurst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[providerID] = rate.NewLimiter(rate.Limit(rps), burst)
}

// has reports whether providerID already has a configured limiter, so
// callers can avoid re-reading provider config on every request.
func (l *Limiter) has(providerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.limiters[providerID]
	return ok
}

// Wait blocks until a token is available for providerID's outbound call,
// or ctx is done. A provider never explicitly configured gets a
// lazily-created default limiter rather than being let through
// unconditionally, so a misconfigured provider can't silently bypass
// throttling.
func (l *Limiter) Wait(ctx context.Context, providerID string) error {
	l.mu.Lock()
	lim, ok := l.limiters[providerID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(DefaultLimiterRPS), DefaultLimiterBurst)
		l.limiters[providerID] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// Remove drops the limiter for providerID, e.g. when a provider is deleted
// or disabled, so a later re-creation under the same id starts fresh.
func (l *Limiter) Remove(providerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, providerID)
}

// parseRateConfig parses the optional rateLimitRPS/rateLimitBurst config
// values (strings, matching the rest of storage.ProviderConfig); an empty
// or unparseable value yields 0, which Configure then replaces with the
// package defaults.
func parseRateConfig(cfg map[string]string) (rps float64, burst int) {
	if v := cfg["rateLimitRPS"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rps = f
		}
	}
	if v := cfg["rateLimitBurst"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			burst = n
		}
	}
	return rps, burst
}
