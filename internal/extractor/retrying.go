package extractor

import (
	"context"

	"github.com/matsen/semlib/internal/record"
	"github.com/matsen/semlib/internal/retry"
)

// RetryingExtractor wraps an extractor with a retry policy. Backoff lives
// here rather than inside the update pipeline so the pipeline stays
// retry-free and testable without mocking time.
type RetryingExtractor struct {
	inner  Extractor
	policy retry.Policy
}

// WithRetry wraps ex so transient backend failures are retried per policy.
func WithRetry(ex Extractor, policy retry.Policy) *RetryingExtractor {
	return &RetryingExtractor{inner: ex, policy: policy}
}

func (r *RetryingExtractor) Extract(ctx context.Context, paperID, text string, paper *record.PaperRecord) (*record.ExtractionRecord, error) {
	var out *record.ExtractionRecord
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var attemptErr error
		out, attemptErr = r.inner.Extract(ctx, paperID, text, paper)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
