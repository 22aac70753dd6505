package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// HeaderVersion identifies the context header layout. Changing the layout
// changes every content hash produced by the chunker.
const HeaderVersion = 1

// Chunk represents a bounded unit of indexed text with its source locator
type Chunk struct {
	// Identification
	ID       string
	FilePath string // Relative to the indexed root, forward slashes
	Ordinal  int    // Position within the file (0-based)

	// Location (1-indexed; page number for paged sources)
	StartLine int
	EndLine   int

	// Metadata
	Scope    string
	Language string

	// Content
	Content     string
	ContentHash string    // Hex of SHA-256 truncated to 128 bits
	Embedding   []float32 // Empty until embedded
}

// ChunkID derives the stable chunk identifier from a file path and ordinal
func ChunkID(filePath string, ordinal int) string {
	return fmt.Sprintf("%s#%d", filePath, ordinal)
}

// Header returns the context header prepended to the chunk before hashing and embedding
func (c *Chunk) Header() string {
	return fmt.Sprintf("# File: %s\n# Scope: %s\n# Lines: %d-%d", c.FilePath, c.Scope, c.StartLine, c.EndLine)
}

// EmbeddingText returns the text sent to the embedding provider
func (c *Chunk) EmbeddingText() string {
	return c.Header() + "\n" + c.Content
}

// ComputeContentHash sets ContentHash from the header and content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = HashContent(c.EmbeddingText())
}

// HashContent returns the 128-bit truncated SHA-256 digest of text as hex
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// Validate checks the chunk is well formed
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return ErrInvalidChunkID
	}
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	if c.ContentHash == "" {
		return errors.New("content hash must be computed")
	}
	return nil
}
