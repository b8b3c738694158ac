// Package storage holds the GORM models and repositories for the gateway's
// SQLite-backed persistence layer: providers, models, credentials, settings,
// sessions, requests and responses. Table and column names are part of the
// interface shared by the gateway, control-plane and web-chat bridge
// processes and must stay stable across minor versions.
package storage

import "time"

// Provider is a configured LLM backend. id is a lowercase slug used as the
// primary key so it can be embedded directly in routing decisions and URLs.
type Provider struct {
	ID          string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name        string    `gorm:"column:name;size:128;uniqueIndex;not null" json:"name"`
	Type        string    `gorm:"column:type;size:32;not null;index" json:"type"`
	Enabled     bool      `gorm:"column:enabled;not null;default:true;index" json:"enabled"`
	Priority    int       `gorm:"column:priority;not null;default:0" json:"priority"`
	Description string    `gorm:"column:description;size:512" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime:milli" json:"updated_at"`
}

// TableName pins the GORM default pluralisation to a stable schema name.
func (Provider) TableName() string { return "providers" }

// ProviderConfig is a single (provider_id,key) configuration entry. Sensitive
// entries (API keys, custom headers) are masked on read unless the caller
// explicitly asks for raw values.
type ProviderConfig struct {
	ProviderID  string    `gorm:"column:provider_id;primaryKey;size:64" json:"provider_id"`
	Key         string    `gorm:"column:key;primaryKey;size:128" json:"key"`
	Value       string    `gorm:"column:value;type:text" json:"value"`
	IsSensitive bool      `gorm:"column:is_sensitive;not null;default:false" json:"is_sensitive"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime:milli" json:"updated_at"`
}

func (ProviderConfig) TableName() string { return "provider_configs" }

// Model is a globally unique chat-completion model descriptor.
type Model struct {
	ID           string    `gorm:"column:id;primaryKey;size:128" json:"id"`
	Name         string    `gorm:"column:name;size:128;not null" json:"name"`
	Description  string    `gorm:"column:description;size:512" json:"description,omitempty"`
	Capabilities string    `gorm:"column:capabilities;type:text" json:"capabilities,omitempty"` // comma-joined tags
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime:milli" json:"updated_at"`
}

func (Model) TableName() string { return "models" }

// ProviderModel links a Provider to a Model it can serve. It is a
// non-owning reference: deleting a Model does not cascade to its Provider.
type ProviderModel struct {
	ProviderID string `gorm:"column:provider_id;primaryKey;size:64" json:"provider_id"`
	ModelID    string `gorm:"column:model_id;primaryKey;size:128" json:"model_id"`
	IsDefault  bool   `gorm:"column:is_default;not null;default:false" json:"is_default"`
	Config     string `gorm:"column:config;type:text" json:"config,omitempty"` // optional per-link JSON config
}

func (ProviderModel) TableName() string { return "provider_models" }

// Credential is the process-wide singleton web-chat-bridge credential. There
// is exactly zero or one row, enforced by always using id=1.
type Credential struct {
	ID        int       `gorm:"column:id;primaryKey" json:"-"`
	Token     string    `gorm:"column:token;type:text;not null" json:"token"`
	Cookies   string    `gorm:"column:cookies;type:text" json:"cookies,omitempty"`
	ExpiresAt *int64    `gorm:"column:expires_at" json:"expiresAt,omitempty"` // seconds since epoch, nullable
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:milli" json:"updated_at"`
}

func (Credential) TableName() string { return "credentials" }

// Valid reports whether the credential can currently be used: both token and
// cookies present and, if expiresAt is set, still in the future.
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.Token == "" || c.Cookies == "" {
		return false
	}
	if c.ExpiresAt == nil {
		return true
	}
	return *c.ExpiresAt > now.Unix()
}

// Setting is a free-form key/value pair. Unknown keys are accepted; a small
// set of "critical" keys (server.port, server.host, ...) receive extra
// validation in the handler layer before being written.
type Setting struct {
	Key       string    `gorm:"column:key;primaryKey;size:128" json:"key"`
	Value     string    `gorm:"column:value;type:text" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:milli" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

// Session anchors a logical conversation to a stable, content-derived id so
// providers that require parent-id chaining (the web-chat bridge) can
// resume continuity across turns.
type Session struct {
	ID               string    `gorm:"column:id;primaryKey;size:32" json:"id"` // 32-hex MD5
	ChatID           string    `gorm:"column:chat_id;size:128" json:"chat_id,omitempty"`
	ParentID         string    `gorm:"column:parent_id;size:128" json:"parent_id,omitempty"`
	FirstUserMessage string    `gorm:"column:first_user_message;type:text;not null" json:"first_user_message"`
	MessageCount     int       `gorm:"column:message_count;not null;default:0" json:"message_count"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
	LastAccessed     time.Time `gorm:"column:last_accessed" json:"last_accessed"`
	ExpiresAt        time.Time `gorm:"column:expires_at;index" json:"expires_at"`
}

func (Session) TableName() string { return "sessions" }

// Expired reports whether the session should be treated as gone.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Request is an append-only record of one inbound chat-completions call.
type Request struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RequestID       string    `gorm:"column:request_id;size:36;uniqueIndex;not null" json:"request_id"` // UUID
	SessionID       string    `gorm:"column:session_id;size:32;index;not null" json:"session_id"`
	Timestamp       time.Time `gorm:"column:timestamp;autoCreateTime:milli" json:"timestamp"`
	Method          string    `gorm:"column:method;size:16;not null" json:"method"`
	Path            string    `gorm:"column:path;size:256;not null" json:"path"`
	OpenAIRequest   string    `gorm:"column:openai_request;type:text" json:"openai_request"`
	ProviderRequest string    `gorm:"column:provider_request;type:text" json:"provider_request,omitempty"`
	Model           string    `gorm:"column:model;size:128;index" json:"model"`
	Stream          bool      `gorm:"column:stream;not null;default:false" json:"stream"`
}

func (Request) TableName() string { return "requests" }

// Response is the append-only counterpart to a Request; there is at most
// one Response per Request.
type Response struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ResponseID       string    `gorm:"column:response_id;size:36;uniqueIndex;not null" json:"response_id"`
	RequestID        string    `gorm:"column:request_id;size:36;uniqueIndex;not null" json:"request_id"`
	SessionID        string    `gorm:"column:session_id;size:32;index;not null" json:"session_id"`
	ProviderResponse string    `gorm:"column:provider_response;type:text" json:"provider_response,omitempty"`
	OpenAIResponse   string    `gorm:"column:openai_response;type:text" json:"openai_response"`
	ParentID         string    `gorm:"column:parent_id;size:128" json:"parent_id,omitempty"`
	PromptTokens     int       `gorm:"column:prompt_tokens;not null;default:0" json:"prompt_tokens"`
	CompletionTokens int       `gorm:"column:completion_tokens;not null;default:0" json:"completion_tokens"`
	TotalTokens      int       `gorm:"column:total_tokens;not null;default:0" json:"total_tokens"`
	FinishReason     string    `gorm:"column:finish_reason;size:32" json:"finish_reason,omitempty"`
	Error            string    `gorm:"column:error;type:text" json:"error,omitempty"`
	DurationMS       int64     `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
}

func (Response) TableName() string { return "responses" }

// ResponseChunk is an optional audit row for one SSE chunk of a streaming
// response, written only when the persistence.storeStreamChunks setting is
// enabled (off by default, see DESIGN.md).
type ResponseChunk struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RequestID  string    `gorm:"column:request_id;size:36;index;not null" json:"request_id"`
	Sequence   int       `gorm:"column:sequence;not null" json:"sequence"`
	Chunk      string    `gorm:"column:chunk;type:text;not null" json:"chunk"`
	ReceivedAt time.Time `gorm:"column:received_at;autoCreateTime:milli" json:"received_at"`
}

func (ResponseChunk) TableName() string { return "response_chunks" }

// AllModels lists every model this package manages, for AutoMigrate callers
// and for tests that need to truncate the full schema.
func AllModels() []any {
	return []any{
		&Provider{},
		&ProviderConfig{},
		&Model{},
		&ProviderModel{},
		&Credential{},
		&Setting{},
		&Session{},
		&Request{},
		&Response{},
		&ResponseChunk{},
	}
}
