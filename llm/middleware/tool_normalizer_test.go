package middleware

import (
	"context"
	"encoding/json"
	"testing"

	llmpkg "github.com/BaSui01/agentflow/llm"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolNormalizer_Rewrite(t *testing.T) {
	n := NewToolNormalizer()

	t.Run("fills default description and parameter type", func(t *testing.T) {
		req := &llmpkg.ChatRequest{
			Tools: []llmpkg.ToolSchema{
				{Name: "get_weather", Parameters: json.RawMessage(`{}`)},
			},
		}
		out, err := n.Rewrite(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "Execute get_weather function", out.Tools[0].Description)

		var params map[string]any
		require.NoError(t, json.Unmarshal(out.Tools[0].Parameters, &params))
		assert.Equal(t, "object", params["type"])
	})

	t.Run("preserves given description and type", func(t *testing.T) {
		req := &llmpkg.ChatRequest{
			Tools: []llmpkg.ToolSchema{
				{
					Name:        "search",
					Description: "Search the web",
					Parameters:  json.RawMessage(`{"type":"array"}`),
				},
			},
		}
		out, err := n.Rewrite(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "Search the web", out.Tools[0].Description)

		var params map[string]any
		require.NoError(t, json.Unmarshal(out.Tools[0].Parameters, &params))
		assert.Equal(t, "array", params["type"])
	})

	t.Run("strips strict key", func(t *testing.T) {
		req := &llmpkg.ChatRequest{
			Tools: []llmpkg.ToolSchema{
				{Name: "f", Parameters: json.RawMessage(`{"type":"object","strict":true}`)},
			},
		}
		out, err := n.Rewrite(context.Background(), req)
		require.NoError(t, err)

		var params map[string]any
		require.NoError(t, json.Unmarshal(out.Tools[0].Parameters, &params))
		_, hasStrict := params["strict"]
		assert.False(t, hasStrict)
	})

	t.Run("nil and empty tool lists pass through untouched", func(t *testing.T) {
		req := &llmpkg.ChatRequest{Tools: nil}
		out, err := n.Rewrite(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, out.Tools)
	})
}

// TestToolNormalizer_Idempotent checks that normalizing a tool definition
// twice produces the same result as normalizing it once, across a range of
// generated names and descriptions.
func TestToolNormalizer_Idempotent(t *testing.T) {
	parameters := gopter.CombineGens(
		gen.Identifier(),
		gen.AlphaString(),
	).Map(func(vals []interface{}) llmpkg.ToolSchema {
		name := vals[0].(string)
		desc := vals[1].(string)
		return llmpkg.ToolSchema{Name: name, Description: desc, Parameters: json.RawMessage(`{}`)}
	})

	properties := gopter.NewProperties(nil)
	properties.Property("normalize is idempotent", prop.ForAll(
		func(t llmpkg.ToolSchema) bool {
			once := NormalizeTool(t)
			twice := NormalizeTool(once)
			return once.Name == twice.Name &&
				once.Description == twice.Description &&
				string(once.Parameters) == string(twice.Parameters)
		},
		parameters,
	))
	properties.TestingRun(t)
}
