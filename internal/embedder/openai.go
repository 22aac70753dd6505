package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider with the official OpenAI SDK
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dims   int
}

func newOpenAIProvider(opts Options) (Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrNoProviderEnabled)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0), // the Client owns retries
		option.WithHTTPClient(&http.Client{Timeout: opts.HTTPTimeout}),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)

	return &OpenAIProvider{
		client: &client,
		model:  opts.Model,
		dims:   opts.Dims,
	}, nil
}

// Embed implements Provider
func (o *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(o.model),
	}
	// text-embedding-3 models can shorten their output
	if known, ok := ModelDimensions(o.model); ok && known != o.dims && strings.HasPrefix(o.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(o.dims))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(ctx, err)
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("%w: openai returned index %d for %d inputs", ErrProviderFailed, d.Index, len(texts))
		}
		vectors[d.Index] = toFloat32(d.Embedding)
	}
	return vectors, nil
}

// classifyOpenAIError maps SDK errors onto the provider error taxonomy
func classifyOpenAIError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: openai: %v", ErrRateLimited, err)
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: openai: %v", ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: openai: %v", ErrProviderFailed, err)
		}
	}
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: openai: %v", ErrUnavailable, err)
}

func (o *OpenAIProvider) Name() string   { return ProviderOpenAI }
func (o *OpenAIProvider) Model() string  { return o.model }
func (o *OpenAIProvider) Dimension() int { return o.dims }
func (o *OpenAIProvider) Close() error   { return nil }
