package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned by repository lookups that find no matching row.
var ErrNotFound = errors.New("not found")

// MaskedValue is substituted for a sensitive ProviderConfig value on read
// unless the caller explicitly requests raw values.
const MaskedValue = "***MASKED***"

// ProviderRepository is the typed data-access layer for Provider and
// ProviderConfig rows, masking sensitive config values on read unless raw
// values are requested.
type ProviderRepository struct {
	db *gorm.DB
}

// NewProviderRepository builds a ProviderRepository over db.
func NewProviderRepository(db *gorm.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// List returns providers, optionally filtered by type and enabled state.
func (r *ProviderRepository) List(ctx context.Context, typeFilter string, enabledFilter *bool) ([]Provider, error) {
	q := r.db.WithContext(ctx).Model(&Provider{})
	if typeFilter != "" {
		q = q.Where("type = ?", typeFilter)
	}
	if enabledFilter != nil {
		q = q.Where("enabled = ?", *enabledFilter)
	}
	var out []Provider
	if err := q.Order("priority desc, id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return out, nil
}

// Get fetches one provider by id.
func (r *ProviderRepository) Get(ctx context.Context, id string) (*Provider, error) {
	var p Provider
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", id, err)
	}
	return &p, nil
}

// Create inserts a Provider and its initial config entries in one
// transaction so a partially-configured provider is never observable.
func (r *ProviderRepository) Create(ctx context.Context, p *Provider, config map[string]ProviderConfigEntryValue) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("create provider: %w", err)
		}
		for key, v := range config {
			cfg := ProviderConfig{ProviderID: p.ID, Key: key, Value: v.Value, IsSensitive: v.IsSensitive}
			if err := tx.Create(&cfg).Error; err != nil {
				return fmt.Errorf("create provider config %s: %w", key, err)
			}
		}
		return nil
	})
}

// ProviderConfigEntryValue is the write-side shape of one config entry.
type ProviderConfigEntryValue struct {
	Value       string
	IsSensitive bool
}

// Update applies a partial set of column updates to a provider.
func (r *ProviderRepository) Update(ctx context.Context, id string, updates map[string]any) (*Provider, error) {
	res := r.db.WithContext(ctx).Model(&Provider{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update provider %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// SetEnabled flips the enabled flag; idempotent when already in that state
//.
func (r *ProviderRepository) SetEnabled(ctx context.Context, id string, enabled bool) (*Provider, error) {
	return r.Update(ctx, id, map[string]any{"enabled": enabled, "updated_at": time.Now()})
}

// Delete removes a provider; its configs and provider-model links cascade
// via the migration's ON DELETE CASCADE foreign keys.
func (r *ProviderRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&Provider{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete provider %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConfig returns a provider's config entries, masking sensitive values
// unless mask is false.
func (r *ProviderRepository) GetConfig(ctx context.Context, id string, mask bool) ([]ProviderConfig, error) {
	var entries []ProviderConfig
	if err := r.db.WithContext(ctx).Where("provider_id = ?", id).Order("key asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("get provider config %s: %w", id, err)
	}
	if mask {
		for i := range entries {
			if entries[i].IsSensitive {
				entries[i].Value = MaskedValue
			}
		}
	}
	return entries, nil
}

// GetConfigMap returns a provider's raw (unmasked) config as a plain map,
// for internal use by the provider factory.
func (r *ProviderRepository) GetConfigMap(ctx context.Context, id string) (map[string]string, error) {
	entries, err := r.GetConfig(ctx, id, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// PutConfig replaces the full config set for a provider in one transaction.
func (r *ProviderRepository) PutConfig(ctx context.Context, id string, config map[string]ProviderConfigEntryValue) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("provider_id = ?", id).Delete(&ProviderConfig{}).Error; err != nil {
			return fmt.Errorf("clear provider config %s: %w", id, err)
		}
		for key, v := range config {
			cfg := ProviderConfig{ProviderID: id, Key: key, Value: v.Value, IsSensitive: v.IsSensitive}
			if err := tx.Create(&cfg).Error; err != nil {
				return fmt.Errorf("put provider config %s: %w", key, err)
			}
		}
		return nil
	})
}

// PatchConfigKey upserts a single config key.
func (r *ProviderRepository) PatchConfigKey(ctx context.Context, id, key string, v ProviderConfigEntryValue) error {
	cfg := ProviderConfig{ProviderID: id, Key: key, Value: v.Value, IsSensitive: v.IsSensitive, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Save(&cfg).Error
	if err != nil {
		return fmt.Errorf("patch provider config %s/%s: %w", id, key, err)
	}
	return nil
}

// DeleteConfigKey removes one config key.
func (r *ProviderRepository) DeleteConfigKey(ctx context.Context, id, key string) error {
	res := r.db.WithContext(ctx).Delete(&ProviderConfig{}, "provider_id = ? AND key = ?", id, key)
	if res.Error != nil {
		return fmt.Errorf("delete provider config %s/%s: %w", id, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLinkedProviders returns every enabled provider linked to model, sorted
// by priority desc, id asc, matching the routing tie-break in the router.
func (r *ProviderRepository) ListLinkedProviders(ctx context.Context, modelID string) ([]Provider, error) {
	var out []Provider
	err := r.db.WithContext(ctx).
		Joins("JOIN provider_models pm ON pm.provider_id = providers.id").
		Where("pm.model_id = ? AND providers.enabled = ?", modelID, true).
		Order("providers.priority desc, providers.id asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list linked providers for %s: %w", modelID, err)
	}
	return out, nil
}
