package core

import (
	"context"
	"log/slog"
	"time"

	"gwi.com/journal-companion/internal/utils"
)

// RetryingEmbedder retries transient failures with a linearly growing delay.
// When the attempts run out it degrades to a zero vector of dims entries, which
// callers treat as "no signal". Fatal errors are returned immediately.
type RetryingEmbedder struct {
	next     Embedder
	attempts int
	delay    time.Duration
	dims     int
	logger   *slog.Logger
}

func NewRetryingEmbedder(next Embedder, attempts int, delay time.Duration, dims int, logger *slog.Logger) *RetryingEmbedder {
	if attempts <= 0 {
		attempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingEmbedder{next: next, attempts: attempts, delay: delay, dims: dims, logger: logger}
}

func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		vec, err := r.next.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}

		r.logger.Debug("embedding attempt failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.delay * time.Duration(attempt)):
		}
	}

	r.logger.Warn("embedding retries exhausted, using zero vector", "attempts", r.attempts, "error", lastErr)
	return make([]float32, r.dims), nil
}

// EmbeddingCache persists embeddings keyed by text and model.
type EmbeddingCache interface {
	CachedEmbedding(ctx context.Context, text, model string) ([]float32, bool, error)
	PutCachedEmbedding(ctx context.Context, text, model string, vec []float32) error
}

// CachedEmbedder serves repeated texts from the cache. Zero vectors are never cached.
type CachedEmbedder struct {
	next   Embedder
	cache  EmbeddingCache
	model  string
	logger *slog.Logger
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{next: next, cache: cache, model: model, logger: logger}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, ok, err := c.cache.CachedEmbedding(ctx, text, c.model)
	if err != nil {
		c.logger.Debug("embedding cache read failed", "error", err)
	}
	if ok {
		return vec, nil
	}

	vec, err = c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if !utils.IsZero(vec) {
		if err := c.cache.PutCachedEmbedding(ctx, text, c.model, vec); err != nil {
			c.logger.Debug("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}
