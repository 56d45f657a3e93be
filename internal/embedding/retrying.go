package embedding

import (
	"context"

	"github.com/matsen/semlib/internal/retry"
)

// RetryingProvider wraps a provider with a retry policy so transient API
// failures do not fail a whole paper.
type RetryingProvider struct {
	inner  Provider
	policy retry.Policy
}

// WithRetry wraps p so failed embedding calls are retried per policy.
func WithRetry(p Provider, policy retry.Policy) *RetryingProvider {
	return &RetryingProvider{inner: p, policy: policy}
}

func (r *RetryingProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	var out Embedding
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var attemptErr error
		out, attemptErr = r.inner.Embed(ctx, text)
		return attemptErr
	})
	return out, err
}

func (r *RetryingProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	var out []Embedding
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var attemptErr error
		out, attemptErr = r.inner.EmbedBatch(ctx, texts)
		return attemptErr
	})
	return out, err
}

func (r *RetryingProvider) ModelName() string { return r.inner.ModelName() }
func (r *RetryingProvider) Dimensions() int   { return r.inner.Dimensions() }
