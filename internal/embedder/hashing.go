package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashingProvider is a deterministic local model based on feature hashing.
// Words and their character trigrams are hashed into signed buckets and the
// result is L2-normalised. It needs no network and suits offline use and tests.
type HashingProvider struct {
	model string
	dims  int
}

func newHashingProvider(opts Options) (Provider, error) {
	return NewHashingProvider(opts.Model, opts.Dims), nil
}

// NewHashingProvider returns a hashing model with dims buckets
func NewHashingProvider(model string, dims int) *HashingProvider {
	if dims <= 0 {
		dims = 384
	}
	if model == "" {
		model = DefaultHashingModel
	}
	return &HashingProvider{model: model, dims: dims}
}

// Embed implements Provider
func (h *HashingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = h.vector(text)
	}
	return vectors, nil
}

func (h *HashingProvider) vector(text string) []float32 {
	vec := make([]float32, h.dims)
	for _, word := range tokenize(text) {
		h.add(vec, "w:"+word, 1.0)
		runes := []rune(word)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "g:"+string(runes[i:i+3]), 0.5)
		}
	}
	return NormalizeVector(vec)
}

func (h *HashingProvider) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize lowercases text and splits it on non-alphanumerics and camelCase humps
func tokenize(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return words
}

func (h *HashingProvider) Name() string   { return ProviderHashing }
func (h *HashingProvider) Model() string  { return h.model }
func (h *HashingProvider) Dimension() int { return h.dims }
func (h *HashingProvider) Close() error   { return nil }
