package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dshills/codesight/pkg/types"
)

// ClientConfig tunes batching, pacing and retries
type ClientConfig struct {
	BatchSize    int
	Retry        RetryConfig
	BatchTimeout time.Duration // Per provider call
	RateLimit    float64       // Provider calls per second, 0 = unlimited
	CacheSize    int           // Query embedding cache entries
}

// DefaultClientConfig returns the defaults used when fields are zero
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BatchSize:    64,
		Retry:        DefaultRetryConfig(),
		BatchTimeout: 60 * time.Second,
		CacheSize:    1000,
	}
}

// Client wraps a Provider with batching, rate limiting, per-batch timeouts
// and retry of transient failures. It is safe for concurrent use.
type Client struct {
	provider Provider
	cfg      ClientConfig
	limiter  *rate.Limiter
	cache    *Cache
	logger   *zap.Logger

	calls atomic.Int64
	texts atomic.Int64
}

// NewClient creates a Client around provider
func NewClient(provider Provider, cfg ClientConfig, logger *zap.Logger) *Client {
	def := DefaultClientConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = def.Retry.MaxDelay
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		provider: provider,
		cfg:      cfg,
		limiter:  limiter,
		cache:    NewCache(cfg.CacheSize),
		logger:   logger.Named("embedder"),
	}
}

// ProviderName returns the underlying provider name
func (c *Client) ProviderName() string { return c.provider.Name() }

// Model returns the embedding model name
func (c *Client) Model() string { return c.provider.Model() }

// Dimension returns the embedding dimension
func (c *Client) Dimension() int { return c.provider.Dimension() }

// Provider returns the wrapped provider
func (c *Client) Provider() Provider { return c.provider }

// Calls returns how many provider calls have been made, retries included
func (c *Client) Calls() int64 { return c.calls.Load() }

// TextsEmbedded returns how many texts were sent in successful calls
func (c *Client) TextsEmbedded() int64 { return c.texts.Load() }

// CheckDimensions fails with a configuration error when the provider's
// dimension differs from expected. It makes no provider call.
func (c *Client) CheckDimensions(expected int) error {
	if expected > 0 && expected != c.provider.Dimension() {
		return fmt.Errorf("%w: collection has %d dims, model %s produces %d",
			types.ErrConfiguration, expected, c.provider.Model(), c.provider.Dimension())
	}
	return nil
}

// EmbedBatch embeds texts in batches of BatchSize and returns one vector per
// text in input order. A batch that keeps failing transiently returns an
// error wrapping types.ErrTransientProvider; any other failure is returned
// after the first attempt.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		vectors, err := c.embedOne(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single query text, serving repeats from the LRU cache
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	key := ComputeHash(c.provider.Model() + "\x00" + text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vectors, err := c.embedOne(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vectors[0])
	return vectors[0], nil
}

// Close releases the provider
func (c *Client) Close() error {
	c.cache.Clear()
	return c.provider.Close()
}

// embedOne sends one batch with pacing, timeout and retry
func (c *Client) embedOne(ctx context.Context, batch []string) ([][]float32, error) {
	onRetry := func(err error, wait time.Duration) {
		c.logger.Warn("embedding batch failed, retrying",
			zap.Int("batch_size", len(batch)),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	vectors, attempts, err := retryWithBackoff(ctx, c.cfg.Retry, onRetry, func(ctx context.Context) ([][]float32, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
		defer cancel()

		c.calls.Add(1)
		vectors, err := c.provider.Embed(callCtx, batch)
		if err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: call exceeded %s: %v", ErrUnavailable, c.cfg.BatchTimeout, err)
			}
			return nil, err
		}
		if err := c.checkVectors(batch, vectors); err != nil {
			return nil, err
		}
		return vectors, nil
	})
	if err != nil {
		if IsTransient(err) {
			return nil, fmt.Errorf("%w after %d attempts: %w", types.ErrTransientProvider, attempts, err)
		}
		return nil, err
	}

	c.texts.Add(int64(len(batch)))
	return vectors, nil
}

func (c *Client) checkVectors(batch []string, vectors [][]float32) error {
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: %d vectors for %d texts", ErrProviderFailed, len(vectors), len(batch))
	}
	dims := c.provider.Dimension()
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), dims)
		}
	}
	return nil
}
