package llmgateway

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// RetryingClient wraps a Client with bounded exponential-backoff retry
// on Complete — a transient provider error should not fail an entire
// subtask outright.
type RetryingClient struct {
	inner      Client
	maxRetries uint64
}

// NewRetryingClient wraps inner with up to maxRetries additional
// attempts after the first failure.
func NewRetryingClient(inner Client, maxRetries uint64) *RetryingClient {
	return &RetryingClient{inner: inner, maxRetries: maxRetries}
}

func (c *RetryingClient) Close() error { return c.inner.Close() }

func (c *RetryingClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	// Streaming responses are not retried transparently: a partially
	// delivered stream cannot be safely replayed to a caller already
	// consuming it. Retries apply only to the drain-to-completion path.
	return c.inner.Stream(ctx, req)
}

func (c *RetryingClient) Complete(ctx context.Context, req *Request) (*Result, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	var result *Result
	err := backoff.Retry(func() error {
		r, err := c.inner.Complete(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return result, nil
}
