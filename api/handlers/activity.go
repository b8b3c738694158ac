package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/BaSui01/agentflow/api"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 1000
)

// errInvalidPagination is returned by pagination when limit/offset fall
// outside their allowed range (limit 1-1000, offset >= 0); callers must
// reject the request with 400 rather than silently clamping it.
var errInvalidPagination = errors.New("limit must be 1-1000 and offset must be >= 0")

// pagination parses limit/offset, rejecting out-of-range values instead
// of clamping them.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > maxPageLimit {
			return 0, 0, errInvalidPagination
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, errInvalidPagination
		}
		offset = n
	}
	return limit, offset, nil
}

// ActivityHandler serves the observability endpoints: recent activity,
// aggregate stats, and paginated requests/responses/sessions listings.
type ActivityHandler struct {
	activity *storage.ActivityRepository
	logger   *zap.Logger
}

// NewActivityHandler builds an ActivityHandler.
func NewActivityHandler(activity *storage.ActivityRepository, logger *zap.Logger) *ActivityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityHandler{activity: activity, logger: logger}
}

// HandleRecent serves GET /api/activity/recent?limit=20.
func (h *ActivityHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, errInvalidPagination.Error(), h.logger)
			return
		}
		limit = n
	}
	responses, err := h.activity.RecentActivity(r.Context(), limit)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to read recent activity", h.logger)
		return
	}
	WriteSuccess(w, responses)
}

// HandleStats serves GET /api/activity/stats.
func (h *ActivityHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.activity.Stats(r.Context())
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to compute activity stats", h.logger)
		return
	}
	WriteSuccess(w, api.ActivityStats{
		TotalRequests:  s.TotalRequests,
		TotalResponses: s.TotalResponses,
		ErrorCount:     s.ErrorCount,
		ActiveSessions: s.ActiveSessions,
		AvgDurationMS:  s.AvgDurationMS,
	})
}

// HandleRequests serves GET /api/requests.
func (h *ActivityHandler) HandleRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset, perr := pagination(r)
	if perr != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, perr.Error(), h.logger)
		return
	}
	items, total, err := h.activity.ListRequests(r.Context(), limit, offset)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to list requests", h.logger)
		return
	}
	WriteSuccess(w, api.PaginatedResult{
		Items: items, Total: int(total), Limit: limit, Offset: offset,
		HasMore: int64(offset+len(items)) < total,
	})
}

// HandleResponses serves GET /api/responses.
func (h *ActivityHandler) HandleResponses(w http.ResponseWriter, r *http.Request) {
	limit, offset, perr := pagination(r)
	if perr != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, perr.Error(), h.logger)
		return
	}
	items, total, err := h.activity.ListResponses(r.Context(), limit, offset)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to list responses", h.logger)
		return
	}
	WriteSuccess(w, api.PaginatedResult{
		Items: items, Total: int(total), Limit: limit, Offset: offset,
		HasMore: int64(offset+len(items)) < total,
	})
}

// HandleSessions serves GET /api/sessions.
func (h *ActivityHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset, perr := pagination(r)
	if perr != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, perr.Error(), h.logger)
		return
	}
	items, total, err := h.activity.ListSessions(r.Context(), limit, offset)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrPersistence, "failed to list sessions", h.logger)
		return
	}
	WriteSuccess(w, api.PaginatedResult{
		Items: items, Total: int(total), Limit: limit, Offset: offset,
		HasMore: int64(offset+len(items)) < total,
	})
}
