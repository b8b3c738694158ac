package webchat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/internal/tlsutil"
	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/providers"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// UpstreamConfig points the bridge at the reverse-engineered web-chat
// service it is fronting.
type UpstreamConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// upstreamMessage is the subset of an OpenAI-style message the upstream
// chat service accepts in its send-message payload.
type upstreamMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// upstreamSendRequest is the send-message request shape: a chat id, the
// parent turn to continue from (empty on the first turn), and exactly the
// newest message — the upstream service holds the rest of the transcript
// keyed by chat_id/parent_id.
type upstreamSendRequest struct {
	ChatID            string            `json:"chat_id"`
	ParentID          string            `json:"parent_id,omitempty"`
	Model             string            `json:"model,omitempty"`
	Messages          []upstreamMessage `json:"messages"`
	Stream            bool              `json:"stream"`
	IncrementalOutput bool              `json:"incremental_output"`
	Timestamp         int64             `json:"timestamp"`
}

// upstreamChunk is a single SSE frame from the upstream service. Content is
// the incremental delta when IncrementalOutput is set, Done marks the
// terminal frame and carries the message id that becomes the next parent_id.
type upstreamChunk struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	Usage     *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

type upstreamCreateChatRequest struct {
	Model string `json:"model,omitempty"`
}

type upstreamCreateChatResponse struct {
	ChatID string `json:"chat_id"`
}

type upstreamModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type upstreamModelsResponse struct {
	Models []upstreamModel `json:"models"`
}

// UpstreamClient talks to the upstream web-chat service on behalf of the
// bridge, authenticating every request with the current credential
// singleton's bearer token and cookie jar.
type UpstreamClient struct {
	cfg    UpstreamConfig
	client *http.Client
	logger *zap.Logger
}

// NewUpstreamClient builds a client against cfg.BaseURL.
func NewUpstreamClient(cfg UpstreamConfig, logger *zap.Logger) *UpstreamClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UpstreamClient{cfg: cfg, client: tlsutil.SecureHTTPClient(timeout), logger: logger}
}

func (c *UpstreamClient) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(c.cfg.BaseURL, "/"), path)
}

func (c *UpstreamClient) authorize(req *http.Request, creds *credentials) {
	req.Header.Set("Authorization", "Bearer "+creds.token)
	if creds.cookies != "" {
		req.Header.Set("Cookie", creds.cookies)
	}
	req.Header.Set("Content-Type", "application/json")
}

// CreateChat opens a new upstream chat and returns its id, called once per
// bridge session on its first turn.
func (c *UpstreamClient) CreateChat(ctx context.Context, creds *credentials, model string) (string, *types.Error) {
	if model == "" {
		model = c.cfg.DefaultModel
	}
	payload, err := json.Marshal(upstreamCreateChatRequest{Model: model})
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "failed to marshal create-chat request").WithCause(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat/new"), bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrConnection, "failed to build create-chat request").WithCause(err)
	}
	c.authorize(httpReq, creds)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", mapUpstreamStatus(resp)
	}

	var out upstreamCreateChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewError(types.ErrConnection, "failed to decode create-chat response").WithCause(err)
	}
	if out.ChatID == "" {
		return "", types.NewError(types.ErrConnection, "upstream returned an empty chat id")
	}
	return out.ChatID, nil
}

// ListModels returns the models the upstream service currently serves.
func (c *UpstreamClient) ListModels(ctx context.Context, creds *credentials) ([]llm.Model, *types.Error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/models"), nil)
	if err != nil {
		return nil, types.NewError(types.ErrConnection, "failed to build list-models request").WithCause(err)
	}
	c.authorize(httpReq, creds)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapUpstreamStatus(resp)
	}

	var out upstreamModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrConnection, "failed to decode list-models response").WithCause(err)
	}
	models := make([]llm.Model, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, llm.Model{ID: m.ID, Object: "model", OwnedBy: "web-chat-bridge"})
	}
	return models, nil
}

// turnResult is what SendMessage (unary path) or a drained stream yields:
// the accumulated assistant text, the terminal parent id for the next
// turn, token usage if the upstream reported it, and the finish reason.
type turnResult struct {
	Content      string
	NextParentID string
	FinishReason string
	Usage        llm.ChatUsage
}

// SendMessage posts the newest user message to an existing (or brand new)
// chat and returns the complete assistant turn. Used for non-streaming
// completions; internally it still consumes the upstream SSE stream, since
// the upstream service always streams.
func (c *UpstreamClient) SendMessage(ctx context.Context, creds *credentials, chatID, parentID, model string, messages []upstreamMessage) (*turnResult, *types.Error) {
	chunks, errCh, tErr := c.sendMessageStream(ctx, creds, chatID, parentID, model, messages)
	if tErr != nil {
		return nil, tErr
	}
	var sb strings.Builder
	result := &turnResult{FinishReason: "stop"}
	for chunk := range chunks {
		sb.WriteString(chunk.Content)
		if chunk.Done {
			result.NextParentID = chunk.MessageID
			if chunk.Usage != nil {
				result.Usage = llm.ChatUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.PromptTokens + chunk.Usage.CompletionTokens,
				}
			}
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if result.NextParentID == "" {
		result.FinishReason = "error"
		return nil, types.NewError(types.ErrConnection, "upstream stream ended without a terminal chunk")
	}
	result.Content = sb.String()
	return result, nil
}

// SendMessageStream posts the newest user message and returns the raw
// upstream chunk stream for callers that need to forward deltas as they
// arrive (the bridge's own SSE handler).
func (c *UpstreamClient) SendMessageStream(ctx context.Context, creds *credentials, chatID, parentID, model string, messages []upstreamMessage) (<-chan upstreamChunk, <-chan *types.Error, *types.Error) {
	return c.sendMessageStream(ctx, creds, chatID, parentID, model, messages)
}

func (c *UpstreamClient) sendMessageStream(ctx context.Context, creds *credentials, chatID, parentID, model string, messages []upstreamMessage) (<-chan upstreamChunk, <-chan *types.Error, *types.Error) {
	req := upstreamSendRequest{
		ChatID:            chatID,
		ParentID:          parentID,
		Model:             model,
		Messages:          messages,
		Stream:            true,
		IncrementalOutput: true,
		Timestamp:         time.Now().Unix(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, nil, types.NewError(types.ErrInternalError, "failed to marshal send-message request").WithCause(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, nil, types.NewError(types.ErrConnection, "failed to build send-message request").WithCause(err)
	}
	c.authorize(httpReq, creds)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, nil, mapTransportError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, nil, mapUpstreamStatus(resp)
	}

	chunkCh := make(chan upstreamChunk)
	errCh := make(chan *types.Error, 1)
	go c.readSSE(ctx, resp.Body, chunkCh, errCh)
	return chunkCh, errCh, nil
}

// readSSE parses `data: {...}\n\n` frames off the upstream response body,
// the same framing every OpenAI-compatible provider speaks.
func (c *UpstreamClient) readSSE(ctx context.Context, body io.ReadCloser, out chan<- upstreamChunk, errCh chan<- *types.Error) {
	defer body.Close()
	defer close(out)
	defer close(errCh)

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				errCh <- types.NewError(types.ErrConnection, "upstream stream read failed").WithCause(err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}
		var chunk upstreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("discarding malformed upstream chunk", zap.Error(err))
			continue
		}
		select {
		case <-ctx.Done():
			return
		case out <- chunk:
		}
		if chunk.Done {
			return
		}
	}
}

func mapTransportError(err error) *types.Error {
	return types.NewError(types.ErrConnection, err.Error()).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithCause(err)
}

func mapUpstreamStatus(resp *http.Response) *types.Error {
	msg := providers.ReadErrorMessage(resp.Body)
	code := types.ErrUpstreamError
	retryable := resp.StatusCode >= 500
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = types.ErrAuthExpired
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	}
	return types.NewError(code, msg).WithHTTPStatus(resp.StatusCode).WithRetryable(retryable).WithProvider("web-chat-bridge")
}
