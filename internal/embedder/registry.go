package embedder

import (
	"fmt"
	"sort"

	"github.com/dshills/codesight/pkg/types"
)

// modelDims maps known embedding models to their output dimension
var modelDims = map[string]int{
	"all-MiniLM-L6-v2":             384,
	"nomic-embed-text":             768,
	"mxbai-embed-large":            1024,
	"jina-embeddings-v2-base-code": 768,
	"jina-embeddings-v3":           1024,
	"text-embedding-3-small":       1536,
	"text-embedding-3-large":       3072,
	"hashing-384":                  384,
	"hashing-768":                  768,
}

// ModelDimensions returns the dimension of a known model
func ModelDimensions(model string) (int, bool) {
	d, ok := modelDims[model]
	return d, ok
}

// ResolveDimensions returns explicit when set, otherwise the registry entry
// for model. An unknown model without explicit dims is a configuration error.
func ResolveDimensions(model string, explicit int) (int, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if d, ok := modelDims[model]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("%w: %w: %q has no known dimension, set dims explicitly",
		types.ErrConfiguration, ErrUnsupportedModel, model)
}

// KnownModels lists registered model names in sorted order
func KnownModels() []string {
	names := make([]string, 0, len(modelDims))
	for name := range modelDims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
