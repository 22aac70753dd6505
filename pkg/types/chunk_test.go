package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID(t *testing.T) {
	assert.Equal(t, "pkg/a.go#0", ChunkID("pkg/a.go", 0))
	assert.Equal(t, "pkg/a.go#12", ChunkID("pkg/a.go", 12))
}

func TestComputeContentHash(t *testing.T) {
	c := Chunk{FilePath: "a.go", Scope: "function Foo", StartLine: 1, EndLine: 3, Content: "func Foo() {}\n"}
	c.ComputeContentHash()

	require.Len(t, c.ContentHash, 32, "hash should be 128 bits hex encoded")
	assert.Equal(t, HashContent(c.EmbeddingText()), c.ContentHash)

	t.Run("deterministic", func(t *testing.T) {
		other := c
		other.ContentHash = ""
		other.ComputeContentHash()
		assert.Equal(t, c.ContentHash, other.ContentHash)
	})

	t.Run("header affects hash", func(t *testing.T) {
		moved := c
		moved.StartLine, moved.EndLine = 10, 12
		moved.ComputeContentHash()
		assert.NotEqual(t, c.ContentHash, moved.ContentHash)
	})
}

func TestEmbeddingText(t *testing.T) {
	c := Chunk{FilePath: "docs/guide.md", Scope: "Install", StartLine: 4, EndLine: 9, Content: "run make"}
	assert.Equal(t, "# File: docs/guide.md\n# Scope: Install\n# Lines: 4-9\nrun make", c.EmbeddingText())
}

func TestChunkValidate(t *testing.T) {
	valid := Chunk{ID: "a#0", FilePath: "a", StartLine: 1, EndLine: 1, Content: "x"}
	valid.ComputeContentHash()
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Chunk)
	}{
		{"missing id", func(c *Chunk) { c.ID = "" }},
		{"empty content", func(c *Chunk) { c.Content = "" }},
		{"zero line", func(c *Chunk) { c.StartLine = 0 }},
		{"inverted range", func(c *Chunk) { c.StartLine = 5 }},
		{"missing hash", func(c *Chunk) { c.ContentHash = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSearchOptionsValidate(t *testing.T) {
	assert.NoError(t, (&SearchOptions{Query: "x"}).Validate())
	assert.NoError(t, (&SearchOptions{Query: "x", Refresh: RefreshBackground}).Validate())
	assert.ErrorIs(t, (&SearchOptions{TopK: -1}).Validate(), ErrInvalidTopK)
	assert.ErrorIs(t, (&SearchOptions{Refresh: "eager"}).Validate(), ErrInvalidRefreshMode)
}
