package providerfactory

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/storage"
	"go.uber.org/zap"
)

// LiveRegistry lazily instantiates and caches llm.Provider instances keyed
// by provider id, rebuilding on demand after CRUD invalidation. Instances
// are built only on first use ("instantiate lazily only when
// first used"), never at registry construction time.
type LiveRegistry struct {
	providers *storage.ProviderRepository
	factory   *Factory
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]llm.Provider
}

// NewLiveRegistry creates a LiveRegistry over the given provider repository.
func NewLiveRegistry(providers *storage.ProviderRepository, logger *zap.Logger) *LiveRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveRegistry{
		providers: providers,
		factory:   New(providers, logger),
		logger:    logger,
		cache:     make(map[string]llm.Provider),
	}
}

// Get returns the live provider for id, building and caching it on first
// use. It re-reads the database row each time a cache miss occurs, so a
// provider disabled since the last Invalidate is rejected here.
func (reg *LiveRegistry) Get(ctx context.Context, id string) (llm.Provider, error) {
	reg.mu.RLock()
	if p, ok := reg.cache[id]; ok {
		reg.mu.RUnlock()
		return p, nil
	}
	reg.mu.RUnlock()

	row, err := reg.providers.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup provider %s: %w", id, err)
	}
	if !row.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", id)
	}

	built, err := reg.factory.Build(ctx, row)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	reg.cache[id] = built
	reg.mu.Unlock()
	return built, nil
}

// Invalidate drops the cached instance for id, if any, so the next Get
// rebuilds it from the current database state. Called by the control
// plane after any provider or provider-config CRUD operation:
// "On provider CRUD, emit invalidation so the next use rebuilds").
func (reg *LiveRegistry) Invalidate(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.cache, id)
}

// InvalidateAll drops every cached instance.
func (reg *LiveRegistry) InvalidateAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.cache = make(map[string]llm.Provider)
}
