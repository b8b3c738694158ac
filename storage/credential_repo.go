package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

const credentialSingletonID = 1

// CredentialRepository manages the process-wide web-chat-bridge credential
// singleton.
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository builds a CredentialRepository over db.
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get returns the current credential row, or ErrNotFound if none has ever
// been set.
func (r *CredentialRepository) Get(ctx context.Context) (*Credential, error) {
	var c Credential
	err := r.db.WithContext(ctx).First(&c, "id = ?", credentialSingletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// Set replaces the credential singleton. Pushing identical values twice
// still yields one row (upsert on the fixed id).
func (r *CredentialRepository) Set(ctx context.Context, token, cookies string, expiresAt *int64) (*Credential, error) {
	c := Credential{ID: credentialSingletonID, Token: token, Cookies: cookies, ExpiresAt: expiresAt}
	if err := r.db.WithContext(ctx).Save(&c).Error; err != nil {
		return nil, fmt.Errorf("set credential: %w", err)
	}
	return &c, nil
}

// Delete clears the credential singleton (logout).
func (r *CredentialRepository) Delete(ctx context.Context) error {
	res := r.db.WithContext(ctx).Delete(&Credential{}, "id = ?", credentialSingletonID)
	if res.Error != nil {
		return fmt.Errorf("delete credential: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
