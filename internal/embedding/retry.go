package embedding

import (
	"context"
	"time"

	"sacredlayer/internal/logging"
)

// retryEngine wraps an Engine and retries transient failures with
// exponential backoff. Retries stop early when the context is done, so
// callers stay in control of the total deadline.
type retryEngine struct {
	inner      Engine
	maxRetries int
	baseDelay  time.Duration
}

// WithRetry wraps an engine with transient-failure retries.
func WithRetry(inner Engine, maxRetries int) Engine {
	if maxRetries <= 0 {
		return inner
	}
	return &retryEngine{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  200 * time.Millisecond,
	}
}

func (r *retryEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	delay := r.baseDelay

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			logging.Get(logging.CategoryEmbedding).Warn("Embed retry %d/%d after error: %v", attempt, r.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		vec, err := r.inner.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		// Context cancellation is not transient
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func (r *retryEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	delay := r.baseDelay

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		vecs, err := r.inner.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func (r *retryEngine) Dimensions() int {
	return r.inner.Dimensions()
}

func (r *retryEngine) Name() string {
	return r.inner.Name()
}
