package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ModelRepository is the typed data-access layer for Model and
// ProviderModel rows.
type ModelRepository struct {
	db *gorm.DB
}

// NewModelRepository builds a ModelRepository over db.
func NewModelRepository(db *gorm.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

// List returns models, optionally filtered by a capability tag and/or the
// id of a provider that serves them.
func (r *ModelRepository) List(ctx context.Context, capability, providerID string) ([]Model, error) {
	q := r.db.WithContext(ctx).Model(&Model{})
	if providerID != "" {
		q = q.Joins("JOIN provider_models pm ON pm.model_id = models.id").
			Where("pm.provider_id = ?", providerID)
	}
	var out []Model
	if err := q.Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if capability == "" {
		return out, nil
	}
	filtered := out[:0]
	for _, m := range out {
		for _, tag := range strings.Split(m.Capabilities, ",") {
			if strings.TrimSpace(tag) == capability {
				filtered = append(filtered, m)
				break
			}
		}
	}
	return filtered, nil
}

// Get fetches a model by id.
func (r *ModelRepository) Get(ctx context.Context, id string) (*Model, error) {
	var m Model
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", id, err)
	}
	return &m, nil
}

// Create inserts a new model.
func (r *ModelRepository) Create(ctx context.Context, m *Model) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create model: %w", err)
	}
	return nil
}

// Update applies a partial set of column updates to a model.
func (r *ModelRepository) Update(ctx context.Context, id string, updates map[string]any) (*Model, error) {
	res := r.db.WithContext(ctx).Model(&Model{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update model %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes a model. ProviderModel links referencing it cascade.
func (r *ModelRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&Model{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete model %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Link creates or updates a ProviderModel row. At most one link per
// provider may have isDefault=true; setting a new default clears any prior
// one within the same transaction.
func (r *ModelRepository) Link(ctx context.Context, providerID, modelID string, isDefault bool, config string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isDefault {
			if err := tx.Model(&ProviderModel{}).
				Where("provider_id = ?", providerID).
				Update("is_default", false).Error; err != nil {
				return fmt.Errorf("clear prior default: %w", err)
			}
		}
		link := ProviderModel{ProviderID: providerID, ModelID: modelID, IsDefault: isDefault, Config: config}
		if err := tx.Save(&link).Error; err != nil {
			return fmt.Errorf("link provider model: %w", err)
		}
		return nil
	})
}

// Unlink removes a ProviderModel row.
func (r *ModelRepository) Unlink(ctx context.Context, providerID, modelID string) error {
	res := r.db.WithContext(ctx).Delete(&ProviderModel{}, "provider_id = ? AND model_id = ?", providerID, modelID)
	if res.Error != nil {
		return fmt.Errorf("unlink provider model: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertAndLink records one model as reported by a provider's live model
// listing: the Model row is inserted or refreshed by name, and a
// ProviderModel link is created if absent. Existing links and any
// operator-assigned default are left untouched, so a re-sync never
// silently changes which model a provider defaults to.
func (r *ModelRepository) UpsertAndLink(ctx context.Context, providerID string, m Model) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).Create(&m).Error; err != nil {
			return fmt.Errorf("upsert model %s: %w", m.ID, err)
		}

		link := ProviderModel{ProviderID: providerID, ModelID: m.ID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_id"}, {Name: "model_id"}},
			DoNothing: true,
		}).Create(&link).Error; err != nil {
			return fmt.Errorf("link synced model %s: %w", m.ID, err)
		}
		return nil
	})
}

// LinksForModel returns every ProviderModel row referencing modelID.
func (r *ModelRepository) LinksForModel(ctx context.Context, modelID string) ([]ProviderModel, error) {
	var out []ProviderModel
	if err := r.db.WithContext(ctx).Where("model_id = ?", modelID).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("links for model %s: %w", modelID, err)
	}
	return out, nil
}
