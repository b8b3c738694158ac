package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/agentflow/internal/httpmw"
	"github.com/BaSui01/agentflow/internal/pool"
	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/providers"
	"github.com/BaSui01/agentflow/llm/streaming"
	"github.com/BaSui01/agentflow/providerfactory"
	"github.com/BaSui01/agentflow/routing"
	"github.com/BaSui01/agentflow/session"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRequestTimeout is used when the caller configures no timeout.
const DefaultRequestTimeout = 120 * time.Second

// ChatHandler serves POST /v1/chat/completions: it resolves a session,
// routes the request to a provider, dispatches the call, and persists the
// request/response pair. Both the unary and streaming paths share the same
// resolve-route-dispatch sequence; only how the provider result is
// delivered and persisted differs.
type ChatHandler struct {
	router   *routing.Router
	registry *providerfactory.LiveRegistry
	sessions *session.Manager
	activity *storage.ActivityRepository
	settings *storage.SettingRepository
	logger   *zap.Logger
	timeout  time.Duration
}

// NewChatHandler builds a ChatHandler over the gateway's routing, provider
// registry, session and persistence layers.
func NewChatHandler(
	router *routing.Router,
	registry *providerfactory.LiveRegistry,
	sessions *session.Manager,
	activity *storage.ActivityRepository,
	settings *storage.SettingRepository,
	logger *zap.Logger,
) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		router:   router,
		registry: registry,
		sessions: sessions,
		activity: activity,
		settings: settings,
		logger:   logger,
		timeout:  DefaultRequestTimeout,
	}
}

// WithTimeout overrides the default request deadline.
func (h *ChatHandler) WithTimeout(d time.Duration) *ChatHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// wireRequest is the OpenAI chat-completions request shape, distinct from
// the flat internal types.ToolCall representation: tool_calls arrive
// nested under a "function" object, as every OpenAI-compatible client
// sends them.
type wireRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []wireTool      `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function wireToolCallFn  `json:"function"`
}

type wireToolCallFn struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string   `json:"type"`
	Function wireFunc `json:"function"`
}

type wireFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// toLLMRequest converts the wire shape into the flat internal representation
// every provider and rewriter works with.
func (req *wireRequest) toLLMRequest() *llm.ChatRequest {
	messages := make([]types.Message, len(req.Messages))
	for i, m := range req.Messages {
		msg := types.Message{
			Role:       types.Role(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]types.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				msg.ToolCalls[j] = types.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
			}
		}
		messages[i] = msg
	}

	tools := make([]types.ToolSchema, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = types.ToolSchema{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		}
	}

	var toolChoice string
	if len(req.ToolChoice) > 0 {
		var s string
		if json.Unmarshal(req.ToolChoice, &s) == nil {
			toolChoice = s
		} else {
			toolChoice = string(req.ToolChoice)
		}
	}

	return &llm.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       tools,
		ToolChoice:  toolChoice,
	}
}

// firstUserMessage returns the content of the first user-role message,
// the value the session manager hashes into a session id.
func firstUserMessage(req *wireRequest) string {
	for _, m := range req.Messages {
		if m.Role == string(types.RoleUser) {
			return m.Content
		}
	}
	return ""
}

// wireResponse is the OpenAI-shaped unary response.
type wireResponse struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices []wireChoice    `json:"choices"`
	Usage   wireUsage       `json:"usage"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toWireResponse(resp *llm.ChatResponse) *wireResponse {
	choices := make([]wireChoice, len(resp.Choices))
	for i, c := range resp.Choices {
		choices[i] = wireChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      toWireMessage(c.Message),
		}
	}
	return &wireResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.CreatedAt.Unix(),
		Model:   resp.Model,
		Choices: choices,
		Usage: wireUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func toWireMessage(m types.Message) wireMessage {
	wm := wireMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ToolCalls) > 0 {
		wm.ToolCalls = make([]wireToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			wm.ToolCalls[i] = wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireToolCallFn{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			}
		}
	}
	return wm
}

// wireStreamChunk is the OpenAI SSE chunk shape.
type wireStreamChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Model   string            `json:"model,omitempty"`
	Choices []wireStreamChoice `json:"choices"`
	Usage   *wireUsage        `json:"usage,omitempty"`
}

type wireStreamChoice struct {
	Index        int         `json:"index"`
	Delta        wireMessage `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

func toWireStreamChunk(c *llm.StreamChunk) *wireStreamChunk {
	var usage *wireUsage
	if c.Usage != nil {
		usage = &wireUsage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		}
	}
	return &wireStreamChunk{
		ID:     c.ID,
		Object: "chat.completion.chunk",
		Model:  c.Model,
		Choices: []wireStreamChoice{{
			Index:        c.Index,
			Delta:        toWireMessage(c.Delta),
			FinishReason: c.FinishReason,
		}},
		Usage: usage,
	}
}

// resolved bundles the outcome of the shared resolve-route-dispatch prelude.
type resolved struct {
	req        *wireRequest
	llmReq     *llm.ChatRequest
	turn       *session.Turn
	unlock     func()
	provider   llm.Provider
	providerID string
	requestID  string
}

// resolve decodes the body, resolves the session, and routes to a live
// provider. It writes an error response and returns ok=false on any
// failure; the caller must not write further to w in that case.
func (h *ChatHandler) resolve(w http.ResponseWriter, r *http.Request) (*resolved, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return nil, false
	}

	var req wireRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}

	if verr := validateWireRequest(&req); verr != nil {
		WriteError(w, verr, h.logger)
		return nil, false
	}

	requestID := httpmw.RequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	turn, unlock, err := h.sessions.Resolve(r.Context(), firstUserMessage(&req))
	if err != nil {
		WriteError(w, types.NewError(types.ErrPersistence, "resolve session").WithCause(err), h.logger)
		return nil, false
	}

	decision, err := h.router.Resolve(r.Context(), req.Model)
	if err != nil {
		unlock()
		var typed *types.Error
		if errors.As(err, &typed) {
			WriteError(w, typed, h.logger)
		} else {
			WriteError(w, types.NewError(types.ErrNoProvider, err.Error()), h.logger)
		}
		return nil, false
	}

	provider, err := h.registry.Get(r.Context(), decision.Provider.ID)
	if err != nil {
		unlock()
		WriteError(w, types.NewError(types.ErrProviderUnavailable, err.Error()).WithRetryable(true), h.logger)
		return nil, false
	}

	llmReq := req.toLLMRequest()
	llmReq.TraceID = requestID
	llmReq.PreviousResponseID = turn.ParentID

	return &resolved{
		req:        &req,
		llmReq:     llmReq,
		turn:       turn,
		unlock:     unlock,
		provider:   provider,
		providerID: decision.Provider.ID,
		requestID:  requestID,
	}, true
}

func validateWireRequest(req *wireRequest) *types.Error {
	if req.Model == "" {
		return types.NewError(types.ErrInvalidRequest, "model is required")
	}
	if len(req.Messages) == 0 {
		return types.NewError(types.ErrInvalidRequest, "messages cannot be empty")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}
	if req.TopP < 0 || req.TopP > 1 {
		return types.NewError(types.ErrInvalidRequest, "top_p must be between 0 and 1")
	}
	return nil
}

// HandleCompletion serves the non-streaming path: dispatch, persist in one
// transaction, and return the full JSON response.
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resolve(w, r)
	if !ok {
		return
	}
	defer res.unlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.router.Wait(ctx, res.providerID); err != nil {
		h.persistError(ctx, res, 0, err)
		h.handleProviderError(w, err)
		return
	}

	start := time.Now()
	resp, err := res.provider.Completion(ctx, res.llmReq)
	duration := time.Since(start)

	if err != nil {
		h.persistError(ctx, res, duration, err)
		h.handleProviderError(w, err)
		return
	}

	if cerr := h.sessions.Complete(ctx, res.turn.ID, "", resp.ID); cerr != nil {
		h.logger.Warn("failed to record session turn", zap.String("session_id", res.turn.ID), zap.Error(cerr))
	}

	wireResp := toWireResponse(resp)
	h.persistSuccess(ctx, res, wireResp, resp, duration, "")

	h.logger.Info("chat completion",
		zap.String("request_id", res.requestID),
		zap.String("model", res.req.Model),
		zap.String("provider", resp.Provider),
		zap.Duration("duration", duration),
	)

	WriteJSON(w, http.StatusOK, wireResp)
}

// HandleStream serves the streaming path: frames are written to the client
// as they arrive, with content and usage accumulated for a single Response
// row written on the terminal chunk (or on client disconnect).
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resolve(w, r)
	if !ok {
		return
	}
	defer res.unlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.router.Wait(ctx, res.providerID); err != nil {
		h.persistError(ctx, res, 0, err)
		h.handleProviderError(w, err)
		return
	}

	start := time.Now()
	stream, err := res.provider.Stream(ctx, res.llmReq)
	if err != nil {
		h.persistError(ctx, res, time.Since(start), err)
		h.handleProviderError(w, err)
		return
	}

	// The upstream reader (the goroutine draining the provider's channel
	// into the bounded buffer below) and the downstream writer (this
	// goroutine, writing SSE frames to the client) run as a cooperating
	// producer/consumer pair: if the client stalls, the buffer fills and
	// the upstream read pauses instead of queueing without bound.
	buffered := h.relayStream(ctx, stream)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported by response writer")
		return
	}

	storeChunks := h.settings != nil && h.settings.GetString(ctx, "persistence.storeStreamChunks", "false") == "true"

	var (
		content      string
		lastID       string
		finishReason string
		usage        llm.ChatUsage
		sequence     int
		streamErr    error
	)

	for chunk := range buffered {
		if chunk.Err != nil {
			streamErr = chunk.Err
			h.writeSSEError(w, flusher, chunk.Err)
			break
		}

		if chunk.ID != "" {
			lastID = chunk.ID
		}
		content += chunk.Delta.Content
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}

		if storeChunks {
			h.persistChunk(ctx, res.requestID, sequence, &chunk)
			sequence++
		}

		h.writeSSEChunk(w, flusher, toWireStreamChunk(&chunk))
	}

	duration := time.Since(start)

	if streamErr == nil {
		if err := ctx.Err(); err != nil {
			streamErr = err
		}
	}

	assembled := &llm.ChatResponse{
		ID:       lastID,
		Provider: res.provider.Name(),
		Model:    res.req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: finishReason,
			Message:      types.Message{Role: types.RoleAssistant, Content: content},
		}},
		Usage:     usage,
		CreatedAt: time.Now(),
	}

	if streamErr != nil {
		if cerr := h.sessions.Complete(ctx, res.turn.ID, "", lastID); cerr != nil {
			h.logger.Warn("failed to record session turn", zap.String("session_id", res.turn.ID), zap.Error(cerr))
		}
		// "client_closed" is reserved for an actual client disconnect
		// (r.Context() cancelled because the peer went away); a real
		// upstream chunk.Err or a request-deadline timeout keeps its own
		// error kind/message instead of being mislabeled as a disconnect.
		h.persistStreamOutcome(ctx, res, assembled, duration, streamErrorMessage(streamErr))
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
		return
	}

	if cerr := h.sessions.Complete(ctx, res.turn.ID, "", lastID); cerr != nil {
		h.logger.Warn("failed to record session turn", zap.String("session_id", res.turn.ID), zap.Error(cerr))
	}
	h.persistStreamOutcome(ctx, res, assembled, duration, "")

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// relayStream decouples the provider's upstream reader from this handler's
// downstream SSE writer with a bounded buffer (spec §5: "the upstream reader
// and the downstream writer execute as a cooperating producer/consumer pair
// with a bounded in-memory buffer"). If the client stalls, the buffer fills
// and the relay goroutine's write blocks, pausing the upstream read instead
// of queueing chunks without limit; if ctx is cancelled, the relay goroutine
// exits and closes the buffer, unblocking the range below.
func (h *ChatHandler) relayStream(ctx context.Context, upstream <-chan llm.StreamChunk) <-chan llm.StreamChunk {
	buf := streaming.NewBackpressureStream[llm.StreamChunk](streaming.DefaultBackpressureConfig())
	go func() {
		defer buf.Close()
		for chunk := range upstream {
			if err := buf.Write(ctx, chunk); err != nil {
				return
			}
		}
	}()
	return buf.ReadChan()
}

// sseBufferPool reuses the scratch buffers used to frame one SSE event,
// avoiding a fresh allocation per chunk on the hot streaming path.
var sseBufferPool = pool.ByteBufferPool

func (h *ChatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, chunk *wireStreamChunk) {
	buf := sseBufferPool.Get()
	defer sseBufferPool.Put(buf)

	buf.WriteString("data: ")
	if err := json.NewEncoder(buf).Encode(chunk); err != nil {
		h.logger.Error("failed to marshal stream chunk", zap.Error(err))
		return
	}
	buf.WriteString("\n")
	w.Write(buf.Bytes())
	flusher.Flush()
}

func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, err *types.Error) {
	payload, _ := json.Marshal(map[string]string{"error": err.Message})
	w.Write([]byte("event: error\n"))
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

// providerRequestRecord is the upstream-facing wire body persisted in
// Request.ProviderRequest: the OpenAI-compatible payload every provider
// type in this registry receives (see providerfactory.Factory.Build), plus
// parent_id — carried by llm.ChatRequest.PreviousResponseID from the
// session's stored turn.ParentID (spec §4.3) — for providers such as the
// web-chat bridge that chain turns by upstream message id.
type providerRequestRecord struct {
	providers.OpenAICompatRequest
	ParentID string `json:"parent_id,omitempty"`
}

// providerRequestJSON reconstructs the request body actually dispatched to
// the provider (the same conversion openaicompat.Provider.Completion/Stream
// perform internally) so it can be persisted verbatim in
// Request.ProviderRequest, distinct from the client-facing OpenAIRequest.
func providerRequestJSON(req *llm.ChatRequest, stream bool) string {
	body := providerRequestRecord{
		OpenAICompatRequest: providers.OpenAICompatRequest{
			Model:       req.Model,
			Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
			Tools:       providers.ConvertToolsToOpenAI(req.Tools),
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Stop:        req.Stop,
			Stream:      stream,
		},
		ParentID: req.PreviousResponseID,
	}
	if req.ToolChoice != "" {
		body.ToolChoice = req.ToolChoice
	}
	payload, _ := json.Marshal(body)
	return string(payload)
}

// persistSuccess writes the Request/Response pair for the unary path in one
// commit.
func (h *ChatHandler) persistSuccess(ctx context.Context, res *resolved, wireResp *wireResponse, resp *llm.ChatResponse, duration time.Duration, errMsg string) {
	reqJSON, _ := json.Marshal(res.req)
	respJSON, _ := json.Marshal(wireResp)

	finishReason := ""
	if len(wireResp.Choices) > 0 {
		finishReason = wireResp.Choices[0].FinishReason
	}

	row := &storage.Request{
		RequestID:       res.requestID,
		SessionID:       res.turn.ID,
		Method:          http.MethodPost,
		Path:            "/v1/chat/completions",
		OpenAIRequest:   string(reqJSON),
		ProviderRequest: providerRequestJSON(res.llmReq, false),
		Model:           res.req.Model,
		Stream:          false,
	}
	respRow := &storage.Response{
		ResponseID:       uuid.NewString(),
		RequestID:        res.requestID,
		SessionID:        res.turn.ID,
		OpenAIResponse:   string(respJSON),
		ParentID:         resp.ID,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		FinishReason:     finishReason,
		Error:            errMsg,
		DurationMS:       duration.Milliseconds(),
	}

	if err := h.activity.CreateRequestResponse(ctx, row, respRow); err != nil {
		h.logger.Error("failed to persist chat activity", zap.String("request_id", res.requestID), zap.Error(err))
	}
}

// streamErrorMessage translates a mid-stream failure into the literal
// persisted in the Response.error column. "client_closed" is reserved for
// the request's context being cancelled because the client actually went
// away; a deadline exceeded on the per-request timeout is a timeout, and a
// genuine upstream chunk.Err keeps its own provider/connection-error text
// (spec §4.2/§7: only client disconnect gets "client_closed").
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "client_closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return err.Error()
	}
}

// persistStreamOutcome writes the reconstructed final assistant message for
// a streaming turn, whether it completed normally or was aborted.
func (h *ChatHandler) persistStreamOutcome(ctx context.Context, res *resolved, assembled *llm.ChatResponse, duration time.Duration, errMsg string) {
	reqJSON, _ := json.Marshal(res.req)
	respJSON, _ := json.Marshal(toWireResponse(assembled))

	finishReason := assembled.Choices[0].FinishReason
	if errMsg != "" {
		finishReason = "error"
	}

	row := &storage.Request{
		RequestID:       res.requestID,
		SessionID:       res.turn.ID,
		Method:          http.MethodPost,
		Path:            "/v1/chat/completions",
		OpenAIRequest:   string(reqJSON),
		ProviderRequest: providerRequestJSON(res.llmReq, true),
		Model:           res.req.Model,
		Stream:          true,
	}
	respRow := &storage.Response{
		ResponseID:       uuid.NewString(),
		RequestID:        res.requestID,
		SessionID:        res.turn.ID,
		OpenAIResponse:   string(respJSON),
		ParentID:         assembled.ID,
		PromptTokens:     assembled.Usage.PromptTokens,
		CompletionTokens: assembled.Usage.CompletionTokens,
		TotalTokens:      assembled.Usage.TotalTokens,
		FinishReason:     finishReason,
		Error:            errMsg,
		DurationMS:       duration.Milliseconds(),
	}

	if err := h.activity.CreateRequestResponse(ctx, row, respRow); err != nil {
		h.logger.Error("failed to persist stream activity", zap.String("request_id", res.requestID), zap.Error(err))
	}
}

// persistChunk appends one raw SSE frame, used only when
// persistence.storeStreamChunks is enabled.
func (h *ChatHandler) persistChunk(ctx context.Context, requestID string, sequence int, chunk *llm.StreamChunk) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	row := &storage.ResponseChunk{
		RequestID: requestID,
		Sequence:  sequence,
		Chunk:     string(payload),
	}
	if err := h.activity.CreateChunk(ctx, row); err != nil {
		h.logger.Warn("failed to persist stream chunk", zap.String("request_id", requestID), zap.Error(err))
	}
}

// persistError writes a Request/Response pair for a call that failed before
// any content was produced.
func (h *ChatHandler) persistError(ctx context.Context, res *resolved, duration time.Duration, err error) {
	reqJSON, _ := json.Marshal(res.req)

	row := &storage.Request{
		RequestID:       res.requestID,
		SessionID:       res.turn.ID,
		Method:          http.MethodPost,
		Path:            "/v1/chat/completions",
		OpenAIRequest:   string(reqJSON),
		ProviderRequest: providerRequestJSON(res.llmReq, res.req.Stream),
		Model:           res.req.Model,
		Stream:          res.req.Stream,
	}
	respRow := &storage.Response{
		ResponseID:   uuid.NewString(),
		RequestID:    res.requestID,
		SessionID:    res.turn.ID,
		FinishReason: "error",
		Error:        err.Error(),
		DurationMS:   duration.Milliseconds(),
	}

	if cerr := h.activity.CreateRequestResponse(ctx, row, respRow); cerr != nil {
		h.logger.Error("failed to persist failed chat activity", zap.String("request_id", res.requestID), zap.Error(cerr))
	}
}

// handleProviderError writes the HTTP error response for a failed provider
// call.
func (h *ChatHandler) handleProviderError(w http.ResponseWriter, err error) {
	var typed *types.Error
	if errors.As(err, &typed) {
		WriteError(w, typed, h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, "provider error").WithCause(err), h.logger)
}
