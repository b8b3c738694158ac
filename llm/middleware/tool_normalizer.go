package middleware

import (
	"context"
	"encoding/json"

	llmpkg "github.com/BaSui01/agentflow/llm"
)

// ToolNormalizer rewrites each tool definition on a request into the shape
// every OpenAI-compatible upstream expects: a name, a description (falling
// back to "Execute <name> function" when omitted), and a parameters object
// that defaults its "type" to "object" when absent. Any "strict" key is
// stripped since most local/hosted backends reject it. The function is
// pure and idempotent: running it twice on the same request yields the
// same tool definitions.
type ToolNormalizer struct{}

// NewToolNormalizer creates a tool-definition normalizer.
func NewToolNormalizer() *ToolNormalizer {
	return &ToolNormalizer{}
}

// Name returns the rewriter name.
func (n *ToolNormalizer) Name() string { return "tool_normalizer" }

// Rewrite normalizes req.Tools in place and returns the same request.
func (n *ToolNormalizer) Rewrite(_ context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if req == nil || len(req.Tools) == 0 {
		return req, nil
	}
	for i, t := range req.Tools {
		req.Tools[i] = NormalizeTool(t)
	}
	return req, nil
}

// NormalizeTool applies the normalization rule to a single tool schema.
func NormalizeTool(t llmpkg.ToolSchema) llmpkg.ToolSchema {
	if t.Description == "" {
		t.Description = "Execute " + t.Name + " function"
	}
	t.Parameters = normalizeParameters(t.Parameters)
	return t
}

// normalizeParameters ensures the parameters object carries a "type" key
// (defaulting to "object") and strips any "strict" key. Malformed or empty
// input is passed through as a bare {"type":"object"} object.
func normalizeParameters(raw json.RawMessage) json.RawMessage {
	params := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			params = map[string]any{}
		}
	}
	delete(params, "strict")
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	out, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return out
}
