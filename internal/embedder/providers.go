package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// Provider names
const (
	ProviderJina    = "jina"
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderHashing = "hashing"

	// Default models
	DefaultJinaModel    = "jina-embeddings-v2-base-code"
	DefaultOpenAIModel  = "text-embedding-3-small"
	DefaultOllamaModel  = "nomic-embed-text"
	DefaultHashingModel = "hashing-384"

	// Default endpoints
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOllamaBaseURL = "http://localhost:11434"
)

// postJSON sends body to url and decodes a 200 response into out.
// Transport failures are ErrUnavailable; status codes go through statusError.
func postJSON(ctx context.Context, client *http.Client, provider, url, apiKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrProviderFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(provider, resp.StatusCode, bodyBytes)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrProviderFailed, provider, err)
	}
	return nil
}

// JinaProvider implements Provider using the Jina AI embeddings API
type JinaProvider struct {
	apiKey     string
	baseURL    string
	model      string
	dims       int
	httpClient *http.Client
}

func newJinaProvider(opts Options) (Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: JINA_API_KEY not set", ErrNoProviderEnabled)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultJinaBaseURL
	}
	return &JinaProvider{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      opts.Model,
		dims:       opts.Dims,
		httpClient: &http.Client{Timeout: opts.HTTPTimeout},
	}, nil
}

// Embed implements Provider
func (j *JinaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}

	reqBody := map[string]interface{}{
		"input": texts,
		"model": j.model,
	}
	if err := postJSON(ctx, j.httpClient, ProviderJina, j.baseURL+"/embeddings", j.apiKey, reqBody, &apiResp); err != nil {
		return nil, err
	}

	sort.SliceStable(apiResp.Data, func(a, b int) bool {
		return apiResp.Data[a].Index < apiResp.Data[b].Index
	})
	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (j *JinaProvider) Name() string   { return ProviderJina }
func (j *JinaProvider) Model() string  { return j.model }
func (j *JinaProvider) Dimension() int { return j.dims }

func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}

// OllamaProvider implements Provider using a local Ollama server's batch endpoint
type OllamaProvider struct {
	baseURL    string
	model      string
	dims       int
	httpClient *http.Client
}

func newOllamaProvider(opts Options) (Provider, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      opts.Model,
		dims:       opts.Dims,
		httpClient: &http.Client{Timeout: opts.HTTPTimeout},
	}, nil
}

// Embed implements Provider
func (o *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var apiResp struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	reqBody := map[string]interface{}{
		"model": o.model,
		"input": texts,
	}
	if err := postJSON(ctx, o.httpClient, ProviderOllama, o.baseURL+"/api/embed", "", reqBody, &apiResp); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(apiResp.Embeddings))
	for i, e := range apiResp.Embeddings {
		vectors[i] = toFloat32(e)
	}
	return vectors, nil
}

// Ping checks the server is reachable by listing local models
func (o *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: create ping request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ollama ping: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(ProviderOllama, resp.StatusCode, body)
	}
	return nil
}

func (o *OllamaProvider) Name() string   { return ProviderOllama }
func (o *OllamaProvider) Model() string  { return o.model }
func (o *OllamaProvider) Dimension() int { return o.dims }

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
