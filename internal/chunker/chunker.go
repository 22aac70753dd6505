package chunker

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/dshills/codesight/internal/parser"
	"github.com/dshills/codesight/pkg/types"
)

const (
	// DefaultMaxChars bounds the content of a single chunk
	DefaultMaxChars = 1500
	// DefaultOverlapChars is repeated between consecutive sliding windows
	DefaultOverlapChars = 200
)

// SourceMeta describes where text came from
type SourceMeta struct {
	Path     string // Relative to the indexed root, forward slashes
	Language string // Detected from Path when empty
}

// Page is one page or slide of a paged document
type Page struct {
	Number int // 1-indexed
	Text   string
}

// Chunker splits extracted text into bounded, header-annotated chunks
type Chunker struct {
	parser       *parser.Parser
	markdown     goldmark.Markdown
	overlapChars int
}

// New creates a Chunker. overlapChars applies only to sliding windows.
func New(overlapChars int) *Chunker {
	if overlapChars < 0 {
		overlapChars = 0
	}
	return &Chunker{
		parser:       parser.New(),
		markdown:     goldmark.New(),
		overlapChars: overlapChars,
	}
}

// Chunk splits text into chunks of at most maxChars content characters.
// Output is deterministic; ordinals start at 0 and IDs derive from path and ordinal.
// Whitespace-only text yields no chunks.
func (c *Chunker) Chunk(text string, meta SourceMeta, maxChars int) []types.Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lang := meta.Language
	if lang == "" {
		lang = DetectLanguage(meta.Path)
	}

	var pieces []piece
	switch {
	case lang == LangGo:
		pieces = c.chunkGo(text, meta.Path, maxChars)
	case lang == LangMarkdown:
		pieces = c.chunkMarkdown(text, maxChars)
	case lang == LangText:
		pieces = c.chunkProse(text, maxChars, nil)
	case boundaryPatterns[lang] != nil:
		pieces = c.chunkCode(text, lang, maxChars)
	default:
		pieces = c.chunkWindows(text, lang, maxChars)
	}

	return finalize(pieces, meta.Path, lang)
}

// ChunkPages splits a paged document. Every chunk's line range is its page number.
func (c *Chunker) ChunkPages(pages []Page, meta SourceMeta, maxChars int) []types.Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	lang := meta.Language
	if lang == "" {
		lang = DetectLanguage(meta.Path)
	}

	var pieces []piece
	for _, page := range pages {
		label := fmt.Sprintf("page %d", page.Number)
		for _, p := range c.chunkProse(strings.ReplaceAll(page.Text, "\r\n", "\n"), maxChars, &label) {
			p.startLine, p.endLine = page.Number, page.Number
			pieces = append(pieces, p)
		}
	}
	return finalize(pieces, meta.Path, lang)
}

// chunkGo splits at top-level declarations found by the Go parser,
// falling back to line patterns when the source has no usable AST
func (c *Chunker) chunkGo(text, filePath string, maxChars int) []piece {
	result, err := c.parser.ParseSource(filePath, []byte(text))
	if err != nil || len(result.Scopes) == 0 {
		return c.chunkCode(text, LangGo, maxChars)
	}

	s := newSplitter(text, maxChars, nestedPatterns[LangGo])
	starts := []int{0}
	labels := []string{"package " + result.PackageName}
	for _, scope := range result.Scopes {
		start := scope.StartLine - 1
		if start <= starts[len(starts)-1] {
			continue
		}
		starts = append(starts, start)
		labels = append(labels, scope.Label())
	}

	var out []piece
	for i, start := range starts {
		end := len(s.lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		s.split(start, end, labels[i], levelNested, &out)
	}
	return out
}

// chunkCode splits at lines matching the language's boundary pattern
func (c *Chunker) chunkCode(text, lang string, maxChars int) []piece {
	pattern := boundaryPatterns[lang]
	s := newSplitter(text, maxChars, nestedPatterns[lang])

	starts := []int{0}
	for i := 1; i < len(s.lines); i++ {
		if pattern.MatchString(s.lines[i]) {
			starts = append(starts, i)
		}
	}

	var out []piece
	for i, start := range starts {
		end := len(s.lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		a, b := s.trim(start, end)
		if a >= b {
			continue
		}
		s.split(a, b, detectScope(s.lines[a], lang), levelNested, &out)
	}
	return out
}

// chunkMarkdown splits at headings; each section is labelled with its heading path
func (c *Chunker) chunkMarkdown(text string, maxChars int) []piece {
	s := newSplitter(text, maxChars, nil)
	headings := markdownHeadings(c.markdown, []byte(text))
	paths := headingPaths(headings)

	var out []piece
	first := len(s.lines)
	if len(headings) > 0 {
		first = headings[0].line
	}
	if first > 0 {
		s.split(0, first, "preamble", levelBlank, &out)
	}
	for i, h := range headings {
		end := len(s.lines)
		if i+1 < len(headings) {
			end = headings[i+1].line
		}
		s.split(h.line, end, paths[i], levelBlank, &out)
	}
	return out
}

// chunkProse packs paragraphs up to maxChars. A nil label derives the scope
// from each chunk's first line.
func (c *Chunker) chunkProse(text string, maxChars int, label *string) []piece {
	s := newSplitter(text, maxChars, nil)
	paragraphs := s.blankParts(0, len(s.lines))

	var out []piece
	for _, p := range s.pack(paragraphs) {
		scope := ""
		if label != nil {
			scope = *label
		} else {
			scope = truncateLabel(strings.TrimSpace(s.lines[p.a]))
		}
		s.split(p.a, p.b, scope, levelBlank, &out)
	}
	return out
}

// chunkWindows covers text with overlapping line windows
func (c *Chunker) chunkWindows(text, lang string, maxChars int) []piece {
	s := newSplitter(text, maxChars, nil)
	overlap := c.overlapChars
	if overlap >= maxChars {
		overlap = maxChars / 4
	}

	var out []piece
	s.windows(0, len(s.lines), overlap, func(a, _ int) string {
		return detectScope(s.lines[a], lang)
	}, &out)
	return out
}

// finalize assigns ordinals, IDs and content hashes
func finalize(pieces []piece, filePath, lang string) []types.Chunk {
	if len(pieces) == 0 {
		return nil
	}
	chunks := make([]types.Chunk, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p.content) == "" {
			continue
		}
		ordinal := len(chunks)
		chunk := types.Chunk{
			ID:        types.ChunkID(filePath, ordinal),
			FilePath:  filePath,
			Ordinal:   ordinal,
			StartLine: p.startLine,
			EndLine:   p.endLine,
			Scope:     p.scope,
			Language:  lang,
			Content:   p.content,
		}
		chunk.ComputeContentHash()
		chunks = append(chunks, chunk)
	}
	return chunks
}
