package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// SettingRepository manages the free-form key/value Setting table.
type SettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository builds a SettingRepository over db.
func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// List returns settings whose key has the given prefix, or all settings if
// prefix is empty.
func (r *SettingRepository) List(ctx context.Context, prefix string) ([]Setting, error) {
	q := r.db.WithContext(ctx).Model(&Setting{})
	if prefix != "" {
		q = q.Where("key LIKE ?", prefix+"%")
	}
	var out []Setting
	if err := q.Order("key asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}

// Get fetches a single setting value.
func (r *SettingRepository) Get(ctx context.Context, key string) (*Setting, error) {
	var s Setting
	err := r.db.WithContext(ctx).First(&s, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return &s, nil
}

// GetString is a convenience wrapper returning a default when the key is
// unset, for background callers (router, session manager) that must not
// fail a request over a missing setting.
func (r *SettingRepository) GetString(ctx context.Context, key, fallback string) string {
	s, err := r.Get(ctx, key)
	if err != nil {
		return fallback
	}
	return s.Value
}

// Set upserts a setting.
func (r *SettingRepository) Set(ctx context.Context, key, value string) (*Setting, error) {
	s := Setting{Key: key, Value: value}
	if err := r.db.WithContext(ctx).Save(&s).Error; err != nil {
		return nil, fmt.Errorf("set setting %s: %w", key, err)
	}
	return &s, nil
}

// BulkSet upserts many settings in one transaction.
func (r *SettingRepository) BulkSet(ctx context.Context, values map[string]string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			if err := tx.Save(&Setting{Key: k, Value: v}).Error; err != nil {
				return fmt.Errorf("bulk set %s: %w", k, err)
			}
		}
		return nil
	})
}

// Delete removes a setting.
func (r *SettingRepository) Delete(ctx context.Context, key string) error {
	res := r.db.WithContext(ctx).Delete(&Setting{}, "key = ?", key)
	if res.Error != nil {
		return fmt.Errorf("delete setting %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
