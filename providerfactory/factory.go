// Package providerfactory builds live llm.Provider instances from the
// database rows managed by the control plane, and keeps a registry in sync
// as those rows change.
package providerfactory

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/providers/openaicompat"
	"github.com/BaSui01/agentflow/storage"
	"go.uber.org/zap"
)

// Provider type strings recognised by the registry.
const (
	TypeLocalOpenAICompatible  = "local-openai-compatible"
	TypeWebChatBridge          = "web-chat-bridge"
	TypeHostedOpenAICompatible = "hosted-openai-compatible"
)

// Factory builds llm.Provider instances from storage.Provider rows plus
// their config entries.
type Factory struct {
	providers *storage.ProviderRepository
	logger    *zap.Logger
}

// New creates a Factory over the given provider repository.
func New(providers *storage.ProviderRepository, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{providers: providers, logger: logger}
}

// Build instantiates the live provider for the given database row. All
// three recognised types are served by the same openaicompat.Provider
// implementation, configured differently per provider type.
func (f *Factory) Build(ctx context.Context, p *storage.Provider) (llm.Provider, error) {
	cfg, err := f.providers.GetConfigMap(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load config for provider %s: %w", p.ID, err)
	}

	baseURL := cfg["baseURL"]
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s (%s) is missing required baseURL config", p.ID, p.Type)
	}

	occ := openaicompat.Config{
		ProviderName: p.ID,
		BaseURL:      baseURL,
		DefaultModel: cfg["defaultModel"],
		Timeout:      parseTimeout(cfg["timeout"]),
	}

	switch p.Type {
	case TypeLocalOpenAICompatible, TypeWebChatBridge:
		// Local inference servers and the web-chat bridge sit on a
		// trusted loopback boundary; no API key is required.
	case TypeHostedOpenAICompatible:
		occ.APIKey = cfg["apiKey"]
		if headers := parseHeaders(cfg["headers"]); len(headers) > 0 {
			occ.BuildHeaders = func(req *http.Request, apiKey string) {
				if apiKey != "" {
					req.Header.Set("Authorization", "Bearer "+apiKey)
				}
				req.Header.Set("Content-Type", "application/json")
				for k, v := range headers {
					req.Header.Set(k, v)
				}
			}
		}
	default:
		return nil, fmt.Errorf("unrecognised provider type %q for provider %s", p.Type, p.ID)
	}

	built := openaicompat.New(occ, f.logger.With(zap.String("provider", p.ID)))
	return wrapRetry(built, f.logger), nil
}

func parseTimeout(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return 0
}

// parseHeaders parses a "K1:V1,K2:V2" custom-header config string.
func parseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		k := strings.TrimSpace(parts[0])
		v := strings.TrimSpace(parts[1])
		if k != "" {
			out[k] = v
		}
	}
	return out
}
