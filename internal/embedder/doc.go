// Package embedder turns chunk text into vectors through a pluggable Provider.
//
// Providers are chosen once, from a constructor table keyed by name:
//   - openai: the official OpenAI SDK (text-embedding-3-*)
//   - jina: the Jina AI HTTP API
//   - ollama: a local Ollama server's batch /api/embed endpoint
//   - hashing: a deterministic feature-hashing model needing no network
//
// # Basic Usage
//
//	client, err := embedder.New(cfg.Embedding, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.CheckDimensions(meta.EmbeddingDims); err != nil {
//	    return err // model changed, collection must be rebuilt
//	}
//	vectors, err := client.EmbedBatch(ctx, texts)
//
// # Batching and Backpressure
//
// EmbedBatch splits its input into BatchSize groups and returns vectors in
// input order. Every provider call waits on a rate limiter and runs under its
// own timeout.
//
// # Error Handling
//
// Providers report rate limiting as ErrRateLimited and outages or timeouts as
// ErrUnavailable. The Client retries those with exponential backoff up to
// MaxRetries times, then fails the whole batch with types.ErrTransientProvider.
// Anything else (bad request, ErrDimensionMismatch) fails on the first attempt.
//
// # Dimensions
//
// The model registry maps model names to dimensions. CheckDimensions compares
// a collection's stored dimension with the configured model before any call.
package embedder
