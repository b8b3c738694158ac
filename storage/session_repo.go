package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SessionRepository is the typed data-access layer backing session.Manager.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository builds a SessionRepository over db.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Get fetches a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *Session) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	return nil
}

// Touch refreshes last_accessed/expires_at and optionally chat_id/parent_id
// after a successful turn, and bumps message_count by one.
func (r *SessionRepository) Touch(ctx context.Context, id, chatID, parentID string, ttl time.Duration) error {
	now := time.Now()
	updates := map[string]any{
		"last_accessed": now,
		"expires_at":    now.Add(ttl),
		"message_count": gorm.Expr("message_count + 1"),
	}
	if chatID != "" {
		updates["chat_id"] = chatID
	}
	if parentID != "" {
		updates["parent_id"] = parentID
	}
	res := r.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("touch session %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one session by id; its requests/responses cascade.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&Session{}, "id = ?", id).Error
}

// DeleteExpiredBatch deletes up to limit expired sessions and reports how
// many it removed, so the sweeper can loop until a batch comes back short
// (bounded-memory sweep of large expired sets).
func (r *SessionRepository) DeleteExpiredBatch(ctx context.Context, now time.Time, limit int) (int64, error) {
	sub := r.db.WithContext(ctx).Model(&Session{}).
		Select("id").
		Where("expires_at < ?", now).
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", sub).Delete(&Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAll clears every session row, used by the web-chat bridge's startup
// policy (bridge sessions are cleared on boot).
func (r *SessionRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&Session{}).Error
}
