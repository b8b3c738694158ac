package api

import "time"

// =============================================================================
// Response Envelope
// =============================================================================

// Response is the canonical API envelope returned by every control-plane and
// gateway handler that does not stream.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the error shape nested in Response.Error and, per §6.1, the
// top-level error envelope for REST failures: {error:{message,type,code?,errors?}}.
type ErrorInfo struct {
	Code       string   `json:"code,omitempty"`
	Message    string   `json:"message"`
	Type       string   `json:"type,omitempty"`
	HTTPStatus int      `json:"http_status,omitempty"`
	Retryable  bool     `json:"retryable,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// =============================================================================
// Provider resource
// =============================================================================

// GatewayProvider is the REST representation of a configured provider.
type GatewayProvider struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Enabled     bool      `json:"enabled"`
	Priority    int       `json:"priority"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProviderConfigEntry is one (key,value) pair of a provider's configuration.
// Sensitive values are masked unless the caller asks for ?mask=false.
type ProviderConfigEntry struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	IsSensitive bool   `json:"is_sensitive"`
}

// CreateProviderRequest is the body of POST /api/providers.
type CreateProviderRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	Description string            `json:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
}

// UpdateProviderRequest is the body of PUT /api/providers/:id. All fields
// are pointers so absent fields leave the stored value untouched.
type UpdateProviderRequest struct {
	Name        *string `json:"name,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ProviderTestResult is the body returned by POST /api/providers/:id/test.
type ProviderTestResult struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

// =============================================================================
// Model resource (ProviderModel link)
// =============================================================================

// GatewayModel is the REST representation of a Model row.
type GatewayModel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProviderModelLink is the REST shape of a ProviderModel row.
type ProviderModelLink struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	IsDefault  bool   `json:"is_default"`
}

// =============================================================================
// Web-chat credential resource
// =============================================================================

// CredentialStatus is the masked GET response for the credential singleton.
type CredentialStatus struct {
	HasCredentials bool       `json:"hasCredentials"`
	IsValid        bool       `json:"isValid"`
	IsExpired      bool       `json:"isExpired"`
	ExpiresAt      *int64     `json:"expiresAt,omitempty"`
	TokenPreview   string     `json:"tokenPreview,omitempty"`
	CookiePreview  string     `json:"cookiePreview,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// SetCredentialRequest is the body of POST /api/qwen/credentials.
type SetCredentialRequest struct {
	Token     string `json:"token"`
	Cookies   string `json:"cookies"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// =============================================================================
// Settings resource
// =============================================================================

// SettingEntry is a single key/value setting.
type SettingEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BulkSettingsRequest is the body of POST /api/settings/bulk.
type BulkSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

// =============================================================================
// Observability resources
// =============================================================================

// PaginatedResult wraps any list payload with offset/limit paging metadata.
type PaginatedResult struct {
	Items   any  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ActivityStats summarises recent gateway activity for /api/activity/stats.
type ActivityStats struct {
	TotalRequests   int64 `json:"total_requests"`
	TotalResponses  int64 `json:"total_responses"`
	ErrorCount      int64 `json:"error_count"`
	ActiveSessions  int64 `json:"active_sessions"`
	AvgDurationMS   int64 `json:"avg_duration_ms"`
}

// =============================================================================
// Proxy / supervisor status
// =============================================================================

// ProxyStatus is the full gateway snapshot broadcast on proxy:status events
// and returned by GET /api/proxy/status.
type ProxyStatus struct {
	Status            string               `json:"status"` // stopped|starting|partial|running|stopping|error
	GatewayPort       int                  `json:"gatewayPort,omitempty"`
	BridgePort        int                  `json:"bridgePort,omitempty"`
	UptimeMS          int64                `json:"uptimeMs"`
	Providers         ProvidersSummary     `json:"providers"`
	Models            ModelsSummary        `json:"models"`
	Credentials       CredentialStatus     `json:"credentials"`
	Timestamp         int64                `json:"timestamp"`
}

// ProvidersSummary is the condensed provider count used in ProxyStatus.
type ProvidersSummary struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}

// ModelsSummary is the condensed model count used in ProxyStatus.
type ModelsSummary struct {
	Total int `json:"total"`
}

// =============================================================================
// Push channel event envelope
// =============================================================================

// PushEvent is the single message shape emitted on the push channel; Type is
// one of "proxy:status", "credentials:updated", "providers:updated",
// "models:updated", and Data holds the type-specific payload.
type PushEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// CredentialsUpdatedEvent is the Data payload of a credentials:updated event.
type CredentialsUpdatedEvent struct {
	Action         string `json:"action"` // updated|deleted
	Valid          bool   `json:"valid"`
	ExpiresAt      *int64 `json:"expiresAt,omitempty"`
	HasCredentials bool   `json:"hasCredentials"`
}

// ProvidersUpdatedEvent is the Data payload of a providers:updated event.
type ProvidersUpdatedEvent struct {
	Action     string `json:"action"` // created|updated|deleted|enabled|disabled
	ProviderID string `json:"providerId,omitempty"`
	Items      int    `json:"items"`
	Total      int    `json:"total"`
	Enabled    int    `json:"enabled"`
}

// ModelsUpdatedEvent is the Data payload of a models:updated event.
type ModelsUpdatedEvent struct {
	Action  string `json:"action"`
	ModelID string `json:"modelId,omitempty"`
	Items   int    `json:"items"`
	Total   int    `json:"total"`
}
