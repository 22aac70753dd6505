package embedder

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codesight/internal/config"
	"github.com/dshills/codesight/pkg/types"
)

// Options selects and configures a Provider
type Options struct {
	Provider    string
	Model       string // Provider default when empty
	Dims        int    // Registry value when zero
	APIKey      string
	BaseURL     string // Provider default when empty
	HTTPTimeout time.Duration
}

type constructor func(opts Options) (Provider, error)

// constructors is the provider table; a provider is chosen once at startup
var constructors = map[string]constructor{
	ProviderOpenAI:  newOpenAIProvider,
	ProviderJina:    newJinaProvider,
	ProviderOllama:  newOllamaProvider,
	ProviderHashing: newHashingProvider,
}

// DefaultModel returns the model used when none is configured
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderJina:
		return DefaultJinaModel
	case ProviderOllama:
		return DefaultOllamaModel
	default:
		return DefaultHashingModel
	}
}

// Providers lists the provider names accepted by NewProvider
func Providers() []string {
	return []string{ProviderHashing, ProviderJina, ProviderOllama, ProviderOpenAI}
}

// NewProvider builds the provider named by opts.Provider
func NewProvider(opts Options) (Provider, error) {
	opts.Provider = strings.ToLower(strings.TrimSpace(opts.Provider))
	if opts.Provider == "" {
		opts.Provider = ProviderHashing
	}
	ctor, ok := constructors[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %w: unknown provider %s", types.ErrConfiguration, ErrUnsupportedModel, opts.Provider)
	}

	if opts.Model == "" {
		opts.Model = DefaultModel(opts.Provider)
	}
	dims, err := ResolveDimensions(opts.Model, opts.Dims)
	if err != nil {
		return nil, err
	}
	opts.Dims = dims
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 60 * time.Second
	}

	p, err := ctor(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConfiguration, err)
	}
	return p, nil
}

// New creates a Client from the embedding section of the configuration
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (*Client, error) {
	provider, err := NewProvider(Options{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		Dims:        cfg.Dims,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		HTTPTimeout: cfg.BatchTimeout.Duration,
	})
	if err != nil {
		return nil, err
	}

	return NewClient(provider, ClientConfig{
		BatchSize: cfg.BatchSize,
		Retry: RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay.Duration,
			MaxDelay:   cfg.MaxDelay.Duration,
			Multiplier: 2.0,
		},
		BatchTimeout: cfg.BatchTimeout.Duration,
		RateLimit:    cfg.RateLimit,
		CacheSize:    cfg.CacheSize,
	}, logger), nil
}
