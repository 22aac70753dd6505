package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")

	// ErrRateLimited and ErrUnavailable are transient and retried
	ErrRateLimited = errors.New("embedding provider rate limited")
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrDimensionMismatch means the provider returned vectors of the wrong length
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider is an embedding backend. Implementations return one vector per
// input text, in input order, and map their failures onto ErrRateLimited,
// ErrUnavailable or ErrProviderFailed.
type Provider interface {
	// Embed generates embeddings for texts in a single provider call
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name
	Name() string

	// Model returns the model name
	Model() string

	// Dimension returns the embedding dimension for this model
	Dimension() int

	// Close releases any resources held by the provider
	Close() error
}

// Pinger is implemented by providers that can check reachability without embedding
type Pinger interface {
	Ping(ctx context.Context) error
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// statusError maps an HTTP status onto the provider error taxonomy
func statusError(provider string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s status %d: %s", ErrRateLimited, provider, status, msg)
	case status == http.StatusRequestTimeout || status >= 500:
		return fmt.Errorf("%w: %s status %d: %s", ErrUnavailable, provider, status, msg)
	default:
		return fmt.Errorf("%w: %s status %d: %s", ErrProviderFailed, provider, status, msg)
	}
}

// Cache provides in-memory LRU caching of query embeddings by text hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 1000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](1000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached vector so callers cannot mutate the cache
func (c *Cache) Get(hash string) ([]float32, bool) {
	vec, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores a vector with automatic LRU eviction
func (c *Cache) Set(hash string, vec []float32) {
	c.cache.Add(hash, vec)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
