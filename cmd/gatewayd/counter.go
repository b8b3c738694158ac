package main

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/storage"
)

// gatewayCounter adapts the storage repositories to
// supervisor.ProviderModelCounter, so the supervisor's ProxyStatus snapshot
// never needs to depend on the storage package directly.
type gatewayCounter struct {
	providers   *storage.ProviderRepository
	models      *storage.ModelRepository
	credentials *storage.CredentialRepository
}

func newGatewayCounter(providers *storage.ProviderRepository, models *storage.ModelRepository, credentials *storage.CredentialRepository) *gatewayCounter {
	return &gatewayCounter{providers: providers, models: models, credentials: credentials}
}

func (c *gatewayCounter) ProvidersSummary(ctx context.Context) (total, enabled int) {
	all, err := c.providers.List(ctx, "", nil)
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

func (c *gatewayCounter) ModelsSummary(ctx context.Context) (total int) {
	all, err := c.models.List(ctx, "", "")
	if err != nil {
		return 0
	}
	return len(all)
}

func (c *gatewayCounter) CredentialsStatus(ctx context.Context) api.CredentialStatus {
	cred, err := c.credentials.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) || err != nil {
		return api.CredentialStatus{HasCredentials: false}
	}
	now := time.Now()
	return api.CredentialStatus{
		HasCredentials: true,
		IsValid:        cred.Valid(now),
		IsExpired:      !cred.Valid(now),
		ExpiresAt:      cred.ExpiresAt,
		CreatedAt:      &cred.CreatedAt,
		UpdatedAt:      &cred.UpdatedAt,
	}
}
