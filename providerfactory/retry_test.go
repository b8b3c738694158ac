package providerfactory

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fastRetryPolicy trades DefaultRetryPolicy's 1s/30s backoff for
// millisecond delays so the retry tests don't block on real time.
func fastRetryPolicy() *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxRetries:      3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		Multiplier:      2.0,
		RetryableErrors: []error{retryableMarker},
	}
}

// fakeProvider is a minimal llm.Provider stub whose Completion/Stream
// behaviour is scripted per test via completionFn/streamFn.
type fakeProvider struct {
	name         string
	completionFn func() (*llm.ChatResponse, error)
	streamFn     func() (<-chan llm.StreamChunk, error)
}

func (f *fakeProvider) Name() string                       { return f.name }
func (f *fakeProvider) SupportsNativeFunctionCalling() bool { return true }
func (f *fakeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (f *fakeProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }
func (f *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return f.completionFn()
}
func (f *fakeProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return f.streamFn()
}

var _ llm.Provider = (*fakeProvider)(nil)

func TestWrapRetry_RetriesRetryableError(t *testing.T) {
	attempts := 0
	inner := &fakeProvider{
		name: "flaky",
		completionFn: func() (*llm.ChatResponse, error) {
			attempts++
			if attempts < 3 {
				return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "boom", Retryable: true}
			}
			return &llm.ChatResponse{Model: "m"}, nil
		},
	}

	p := &retryingProvider{inner: inner, retryer: retry.NewBackoffRetryer(fastRetryPolicy(), zap.NewNop())}
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", resp.Model)
	assert.Equal(t, 3, attempts, "should have retried until success")
}

func TestWrapRetry_DoesNotRetryNonRetryableError(t *testing.T) {
	attempts := 0
	inner := &fakeProvider{
		name: "broken",
		completionFn: func() (*llm.ChatResponse, error) {
			attempts++
			return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "bad request", Retryable: false}
		},
	}

	p := &retryingProvider{inner: inner, retryer: retry.NewBackoffRetryer(fastRetryPolicy(), zap.NewNop())}
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable errors stop after the first attempt")

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrInvalidRequest, llmErr.Code)
}

func TestWrapRetry_PreservesProviderIdentity(t *testing.T) {
	inner := &fakeProvider{name: "id-check"}
	p := wrapRetry(inner, zap.NewNop())
	assert.Equal(t, "id-check", p.Name())
	assert.True(t, p.SupportsNativeFunctionCalling())
}
