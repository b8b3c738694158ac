package providerfactory

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/retry"
	"go.uber.org/zap"
)

// retryableMarker is matched via errors.Is against retry.RetryPolicy's
// RetryableErrors allowlist. Wrapping an error with it is how
// retryingProvider tells the generic retryer "this one's worth another
// attempt"; an error returned unwrapped stops the retry loop immediately.
var retryableMarker = errors.New("provider error marked retryable")

// retryingProvider wraps an llm.Provider so that transient upstream failures
// (connection resets, 5xx responses — anything the inner provider marked
// Retryable) are retried with exponential backoff before surfacing to the
// caller. Only the unary Completion path and the Stream connection-
// establishment phase are retried; once a stream channel is handed back, a
// mid-stream failure is reported on the channel rather than restarted, since
// replaying a partially-delivered SSE stream would duplicate content already
// relayed to the client (see spec §4.2 streaming path).
type retryingProvider struct {
	inner   llm.Provider
	retryer retry.Retryer
}

// wrapRetry decorates a built provider with retry.DefaultRetryPolicy's
// backoff behaviour, scoped to errors the provider itself flagged Retryable.
func wrapRetry(p llm.Provider, logger *zap.Logger) llm.Provider {
	policy := retry.DefaultRetryPolicy()
	policy.RetryableErrors = []error{retryableMarker}
	return &retryingProvider{
		inner:   p,
		retryer: retry.NewBackoffRetryer(policy, logger.With(zap.String("provider", p.Name()))),
	}
}

var _ llm.Provider = (*retryingProvider)(nil)

func (p *retryingProvider) Name() string { return p.inner.Name() }

func (p *retryingProvider) SupportsNativeFunctionCalling() bool {
	return p.inner.SupportsNativeFunctionCalling()
}

func (p *retryingProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *retryingProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return p.inner.ListModels(ctx)
}

func (p *retryingProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := retry.DoWithResultTyped(p.retryer, ctx, func() (*llm.ChatResponse, error) {
		resp, err := p.inner.Completion(ctx, req)
		if err != nil {
			return resp, markRetryable(err)
		}
		return resp, nil
	})
	return resp, unwrapMarker(err)
}

func (p *retryingProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch, err := retry.DoWithResultTyped(p.retryer, ctx, func() (<-chan llm.StreamChunk, error) {
		ch, err := p.inner.Stream(ctx, req)
		if err != nil {
			return ch, markRetryable(err)
		}
		return ch, nil
	})
	return ch, unwrapMarker(err)
}

// markRetryable wraps err with retryableMarker when the provider flagged it
// Retryable, so the retry loop keeps going; otherwise err is returned as-is
// and the loop stops on the next isRetryable check.
func markRetryable(err error) error {
	if llmErr, ok := err.(*llm.Error); ok && llmErr.Retryable {
		return fmt.Errorf("%w: %w", retryableMarker, err)
	}
	return err
}

// unwrapMarker strips retryableMarker (and the backoffRetryer's "retried N
// times" wrapping) so the caller sees the original *llm.Error, not an
// internal retry-bookkeeping wrapper.
func unwrapMarker(err error) error {
	if err == nil {
		return nil
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	return err
}
