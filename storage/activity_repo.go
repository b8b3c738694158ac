package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ActivityRepository persists Request/Response rows and serves the
// observability endpoints (§6.1 /api/activity/*, /api/requests,
// /api/responses).
type ActivityRepository struct {
	db *gorm.DB
}

// NewActivityRepository builds an ActivityRepository over db.
func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// CreateRequest inserts a Request row.
func (r *ActivityRepository) CreateRequest(ctx context.Context, req *Request) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// CreateResponse inserts a Response row.
func (r *ActivityRepository) CreateResponse(ctx context.Context, resp *Response) error {
	if err := r.db.WithContext(ctx).Create(resp).Error; err != nil {
		return fmt.Errorf("create response: %w", err)
	}
	return nil
}

// CreateRequestResponse persists a Request and its Response in one
// transaction, the unary path's commit boundary.
func (r *ActivityRepository) CreateRequestResponse(ctx context.Context, req *Request, resp *Response) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if err := tx.Create(resp).Error; err != nil {
			return fmt.Errorf("create response: %w", err)
		}
		return nil
	})
}

// CreateChunk appends one ResponseChunk row, used only when
// persistence.storeStreamChunks is enabled.
func (r *ActivityRepository) CreateChunk(ctx context.Context, c *ResponseChunk) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create response chunk: %w", err)
	}
	return nil
}

// ListRequests returns a page of requests, newest first.
func (r *ActivityRepository) ListRequests(ctx context.Context, limit, offset int) ([]Request, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Request{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}
	var out []Request
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Offset(offset).Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return out, total, nil
}

// ListResponses returns a page of responses, newest first.
func (r *ActivityRepository) ListResponses(ctx context.Context, limit, offset int) ([]Response, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Response{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count responses: %w", err)
	}
	var out []Response
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Offset(offset).Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list responses: %w", err)
	}
	return out, total, nil
}

// ListSessions returns a page of sessions, most recently accessed first.
func (r *ActivityRepository) ListSessions(ctx context.Context, limit, offset int) ([]Session, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	var out []Session
	err := r.db.WithContext(ctx).Order("last_accessed desc").Limit(limit).Offset(offset).Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return out, total, nil
}

// RecentActivity returns the most recent n responses for the
// /api/activity/recent endpoint.
func (r *ActivityRepository) RecentActivity(ctx context.Context, limit int) ([]Response, error) {
	var out []Response
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return out, nil
}

// ActivityStats summarises counts for /api/activity/stats.
type ActivityStats struct {
	TotalRequests  int64
	TotalResponses int64
	ErrorCount     int64
	ActiveSessions int64
	AvgDurationMS  int64
}

// Stats computes aggregate activity counters.
func (r *ActivityRepository) Stats(ctx context.Context) (*ActivityStats, error) {
	var s ActivityStats
	if err := r.db.WithContext(ctx).Model(&Request{}).Count(&s.TotalRequests).Error; err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&Response{}).Count(&s.TotalResponses).Error; err != nil {
		return nil, fmt.Errorf("count responses: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&Response{}).Where("error != ''").Count(&s.ErrorCount).Error; err != nil {
		return nil, fmt.Errorf("count errors: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&Session{}).Count(&s.ActiveSessions).Error; err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	var avg struct{ Avg float64 }
	if err := r.db.WithContext(ctx).Model(&Response{}).Select("COALESCE(AVG(duration_ms), 0) as avg").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("avg duration: %w", err)
	}
	s.AvgDurationMS = int64(avg.Avg)
	return &s, nil
}
