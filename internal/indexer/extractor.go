package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dshills/codesight/internal/chunker"
)

// Extraction errors. Each marks the file Failed for the pass.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorrupt           = errors.New("corrupt or binary file")
	ErrTooLarge          = errors.New("file too large")
)

// Document is the text extracted from one file. Paged sources fill Pages,
// everything else fills Text.
type Document struct {
	Text  string
	Pages []chunker.Page
}

// Extractor turns a file on disk into text
type Extractor interface {
	Extract(ctx context.Context, absPath string) (*Document, error)
}

// ExtractorFunc adapts a function to the Extractor interface
type ExtractorFunc func(ctx context.Context, absPath string) (*Document, error)

// Extract implements Extractor
func (f ExtractorFunc) Extract(ctx context.Context, absPath string) (*Document, error) {
	return f(ctx, absPath)
}

// FileExtractor reads UTF-8 text and code directly and routes document
// formats to registered extractors
type FileExtractor struct {
	maxSize   int64
	documents map[string]Extractor
}

// NewFileExtractor creates an extractor that rejects files above maxSize bytes.
// A non-positive maxSize disables the check.
func NewFileExtractor(maxSize int64) *FileExtractor {
	return &FileExtractor{
		maxSize:   maxSize,
		documents: make(map[string]Extractor),
	}
}

// Register routes files with the given extension (".pdf") to ext
func (e *FileExtractor) Register(extension string, ext Extractor) {
	e.documents[strings.ToLower(extension)] = ext
}

// Extract implements Extractor
func (e *FileExtractor) Extract(ctx context.Context, absPath string) (*Document, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if e.maxSize > 0 && info.Size() > e.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	extension := strings.ToLower(filepath.Ext(absPath))
	if doc, ok := e.documents[extension]; ok {
		return doc.Extract(ctx, absPath)
	}
	for _, d := range DocumentExtensions {
		if extension == d {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, extension)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return nil, ErrCorrupt
	}
	return &Document{Text: string(data)}, nil
}
