package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/agentflow/config"
	"github.com/BaSui01/agentflow/llm/providers"
	"github.com/BaSui01/agentflow/session"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Bridge is the web-chat bridge (W): an OpenAI-compatible HTTP server whose
// handlers translate every call into the upstream chat service's
// create-chat/send-message/parent-id protocol. It owns its own database
// handle and session manager, independent of the gateway's.
type Bridge struct {
	db          *gorm.DB
	credentials *storage.CredentialRepository
	sessions    *session.Manager
	upstream    *UpstreamClient
	logger      *zap.Logger
}

// NewBridge wires a Bridge over its own db connection. Per the startup
// policy, it clears every session so the bridge never continues a
// parent-id chain that predates the current credential.
func NewBridge(ctx context.Context, cfg config.WebChatConfig, db *gorm.DB, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := session.New(storage.NewSessionRepository(db), logger)
	if err := sessions.ClearAll(ctx); err != nil {
		return nil, fmt.Errorf("clear sessions on startup: %w", err)
	}
	return &Bridge{
		db:          db,
		credentials: storage.NewCredentialRepository(db),
		sessions:    sessions,
		upstream:    NewUpstreamClient(UpstreamConfig{BaseURL: cfg.UpstreamBaseURL, DefaultModel: cfg.DefaultModel, Timeout: cfg.Timeout}, logger),
		logger:      logger,
	}, nil
}

// Routes builds the bridge's HTTP surface.
func (b *Bridge) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", b.HandleChatCompletions)
	mux.HandleFunc("/v1/models", b.HandleModels)
	mux.HandleFunc("/healthz", b.HandleHealthz)
	return mux
}

// HandleHealthz reports readiness: the bridge is healthy once it can reach
// its own database, independent of upstream or credential state.
func (b *Bridge) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := b.db.DB()
	if err != nil || sqlDB.PingContext(r.Context()) != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleModels proxies the upstream service's model list in OpenAI's
// `GET /v1/models` shape.
func (b *Bridge) HandleModels(w http.ResponseWriter, r *http.Request) {
	creds, tErr := fetchCredentials(r.Context(), b.credentials, b.logger)
	if tErr != nil {
		writeTypesError(w, tErr)
		return
	}
	models, tErr := b.upstream.ListModels(r.Context(), creds)
	if tErr != nil {
		writeTypesError(w, tErr)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Object string `json:"object"`
		Data   any    `json:"data"`
	}{Object: "list", Data: models})
}

// HandleChatCompletions implements the turn algorithm: resolve/create the
// session, create the upstream chat on the first turn, send the newest
// message with the stored parent id, and translate the upstream reply (or
// stream) back into the same OpenAI-compatible shape every other provider
// speaks.
func (b *Bridge) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeOpenAIError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	ctx := r.Context()

	var req providers.OpenAICompatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	creds, tErr := fetchCredentials(ctx, b.credentials, b.logger)
	if tErr != nil {
		writeTypesError(w, tErr)
		return
	}

	turn, unlock, err := b.sessions.Resolve(ctx, firstUserContent(req.Messages))
	if err != nil {
		writeOpenAIError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	defer unlock()

	chatID := turn.ChatID
	if turn.Created {
		newChatID, tErr := b.upstream.CreateChat(ctx, creds, req.Model)
		if tErr != nil {
			writeTypesError(w, tErr)
			return
		}
		chatID = newChatID
	}

	latest := req.Messages[len(req.Messages)-1]
	upstreamMsgs := []upstreamMessage{{Role: latest.Role, Content: latest.Content}}

	if req.Stream {
		b.handleStream(ctx, w, creds, chatID, turn, req.Model, upstreamMsgs)
		return
	}

	result, tErr := b.upstream.SendMessage(ctx, creds, chatID, turn.ParentID, req.Model, upstreamMsgs)
	if tErr != nil {
		writeTypesError(w, tErr)
		return
	}
	if err := b.sessions.Complete(ctx, turn.ID, chatID, result.NextParentID); err != nil {
		b.logger.Warn("failed to persist turn completion", zap.String("session_id", turn.ID), zap.Error(err))
	}

	resp := providers.OpenAICompatResponse{
		ID:      result.NextParentID,
		Model:   req.Model,
		Created: time.Now().Unix(),
		Choices: []providers.OpenAICompatChoice{{
			Index:        0,
			FinishReason: result.FinishReason,
			Message:      providers.OpenAICompatMessage{Role: "assistant", Content: result.Content},
		}},
		Usage: &providers.OpenAICompatUsage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream forwards upstream chunks to the client as they arrive,
// shaped as providers.OpenAICompatResponse SSE frames: the same shape
// openaicompat.StreamSSE already parses for every other provider.
func (b *Bridge) handleStream(ctx context.Context, w http.ResponseWriter, creds *credentials, chatID string, turn *session.Turn, model string, msgs []upstreamMessage) {
	chunkCh, errCh, tErr := b.upstream.SendMessageStream(ctx, creds, chatID, turn.ParentID, model, msgs)
	if tErr != nil {
		writeTypesError(w, tErr)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var lastParentID string
	for chunk := range chunkCh {
		if chunk.MessageID != "" {
			lastParentID = chunk.MessageID
		}
		finishReason := ""
		if chunk.Done {
			finishReason = "stop"
		}
		frame := providers.OpenAICompatResponse{
			ID:    lastParentID,
			Model: model,
			Choices: []providers.OpenAICompatChoice{{
				Index:        0,
				FinishReason: finishReason,
				Delta:        &providers.OpenAICompatMessage{Role: "assistant", Content: chunk.Content},
			}},
		}
		if chunk.Done && chunk.Usage != nil {
			frame.Usage = &providers.OpenAICompatUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.PromptTokens + chunk.Usage.CompletionTokens,
			}
		}
		writeSSE(w, frame)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := <-errCh; err != nil {
		b.logger.Warn("upstream stream ended in error", zap.String("session_id", turn.ID), zap.Error(err))
	} else if lastParentID == "" {
		b.logger.Warn("upstream stream ended without a terminal chunk", zap.String("session_id", turn.ID))
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	if lastParentID != "" {
		if err := b.sessions.Complete(ctx, turn.ID, chatID, lastParentID); err != nil {
			b.logger.Warn("failed to persist turn completion", zap.String("session_id", turn.ID), zap.Error(err))
		}
	}
}

func firstUserContent(messages []providers.OpenAICompatMessage) string {
	for _, m := range messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	if len(messages) > 0 {
		return messages[0].Content
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSSE(w http.ResponseWriter, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// writeOpenAIError writes the OpenAI-style error envelope providers.ReadErrorMessage
// already knows how to parse.
func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	var resp providers.OpenAICompatErrorResp
	resp.Error.Message = message
	resp.Error.Type = errType
	writeJSON(w, status, resp)
}

// writeTypesError maps a structured gateway error onto the OpenAI error
// envelope, preserving its HTTP status.
func writeTypesError(w http.ResponseWriter, err *types.Error) {
	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeOpenAIError(w, status, string(err.Code), err.Message)
}
