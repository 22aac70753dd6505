package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesight/pkg/types"
)

const goSource = `package auth

import "errors"

// ErrExpired is returned for stale tokens
var ErrExpired = errors.New("expired")

// Token is a signed credential
type Token struct {
	Value string
}

// Validate checks the token
func (t *Token) Validate() error {
	if t.Value == "" {
		return ErrExpired
	}
	return nil
}

func helper() int { return 1 }
`

func scopes(chunks []types.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Scope
	}
	return out
}

func assertBounded(t *testing.T, chunks []types.Chunk, maxChars int) {
	t.Helper()
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), maxChars, "chunk %s too large", c.ID)
		assert.NotEmpty(t, strings.TrimSpace(c.Content), "chunk %s is empty", c.ID)
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
		assert.NoError(t, c.Validate())
	}
}

func TestChunk_Go(t *testing.T) {
	c := New(DefaultOverlapChars)
	chunks := c.Chunk(goSource, SourceMeta{Path: "auth/token.go"}, 1500)

	assert.Equal(t, []string{
		"package auth",
		"import",
		"var ErrExpired",
		"type Token",
		"method Token.Validate",
		"function helper",
	}, scopes(chunks))

	validate := chunks[4]
	assert.Equal(t, "auth/token.go#4", validate.ID)
	assert.Equal(t, 13, validate.StartLine, "doc comment belongs to the method")
	assert.Equal(t, 19, validate.EndLine)
	assert.True(t, strings.HasPrefix(validate.Content, "// Validate checks the token"))
	assert.Equal(t, LangGo, validate.Language)
	assertBounded(t, chunks, 1500)
}

func TestChunk_GoSyntaxErrorFallsBack(t *testing.T) {
	src := "package x\n\nfunc a() {\n\treturn\n}\n\nfunc b( {\n"
	chunks := New(0).Chunk(src, SourceMeta{Path: "x.go"}, 1500)
	require.NotEmpty(t, chunks)
	assertBounded(t, chunks, 1500)
}

func TestChunk_PythonBoundaries(t *testing.T) {
	src := `import os

def load(path):
    return open(path).read()

class Store:
    def get(self, key):
        return self.data[key]
`
	chunks := New(0).Chunk(src, SourceMeta{Path: "store.py"}, 1500)
	assert.Equal(t, []string{"import", "function load", "class Store"}, scopes(chunks))
	assert.Equal(t, 6, chunks[2].StartLine)
	assert.Equal(t, 8, chunks[2].EndLine)
}

func TestChunk_OversizedScopeUsesNestedBoundaries(t *testing.T) {
	var b strings.Builder
	b.WriteString("class Big:\n")
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "    def m%d(self):\n        return %d\n\n", i, i)
	}
	chunks := New(0).Chunk(b.String(), SourceMeta{Path: "big.py"}, 60)

	require.Greater(t, len(chunks), 1)
	assertBounded(t, chunks, 60)
	for _, ch := range chunks {
		assert.Equal(t, "class Big", ch.Scope, "sub-chunks keep the enclosing scope")
	}

	// Every method definition survives in some chunk
	joined := ""
	for _, ch := range chunks {
		joined += ch.Content + "\n"
	}
	for i := 0; i < 6; i++ {
		assert.Contains(t, joined, fmt.Sprintf("def m%d(self):", i))
	}
}

func TestChunk_LongLineNeverTruncated(t *testing.T) {
	line := strings.Repeat("word ", 100) + "end. Next sentence here! " + strings.Repeat("é", 90)
	chunks := New(0).Chunk(line, SourceMeta{Path: "notes.txt"}, 50)

	assertBounded(t, chunks, 50)
	var rebuilt strings.Builder
	for _, ch := range chunks {
		assert.Equal(t, 1, ch.StartLine)
		assert.Equal(t, 1, ch.EndLine)
		rebuilt.WriteString(ch.Content)
	}
	// Only whitespace-only fragments may be dropped
	assert.Equal(t, strings.Join(strings.Fields(line), ""), strings.Join(strings.Fields(rebuilt.String()), ""))
}

func TestChunk_MaxCharsProperty(t *testing.T) {
	inputs := map[string]string{
		"a.go":    goSource + "\nfunc long() {\n" + strings.Repeat("\tx := computeSomething(1, 2, 3)\n", 80) + "}\n",
		"b.py":    "def f():\n" + strings.Repeat("    y = [i for i in range(100)]\n", 60),
		"c.md":    "# Title\n\n" + strings.Repeat("Paragraph text that goes on for a while.\n\n", 40),
		"d.txt":   strings.Repeat("lorem ipsum dolor sit amet ", 400),
		"e.yaml":  strings.Repeat("key: value\nlist:\n  - item\n", 100),
		"f.rs":    "fn main() {\n" + strings.Repeat("    println!(\"{}\", 42);\n", 90) + "}\n",
		"g.json":  `{"k": "` + strings.Repeat("v", 3000) + `"}`,
		"h.c":     "int main(void) {\n" + strings.Repeat("  call();\n", 200) + "}\n",
		"i.jsx":   "export function App() {\n" + strings.Repeat("  const x = <div>hi</div>;\n", 50) + "}\n",
		"j.rb":    "module M\n" + strings.Repeat("  def a; end\n", 100) + "end\n",
		"k.plain": strings.Repeat("🙂", 1000),
	}

	c := New(20)
	for _, maxChars := range []int{40, 120, 500} {
		for path, text := range inputs {
			t.Run(fmt.Sprintf("%s/%d", path, maxChars), func(t *testing.T) {
				chunks := c.Chunk(text, SourceMeta{Path: path}, maxChars)
				require.NotEmpty(t, chunks)
				assertBounded(t, chunks, maxChars)
			})
		}
	}
}

func TestChunk_Empty(t *testing.T) {
	c := New(0)
	assert.Empty(t, c.Chunk("", SourceMeta{Path: "empty.go"}, 100))
	assert.Empty(t, c.Chunk("  \n\n\t\n", SourceMeta{Path: "blank.md"}, 100))
}

func TestChunk_Deterministic(t *testing.T) {
	c := New(DefaultOverlapChars)
	first := c.Chunk(goSource, SourceMeta{Path: "auth/token.go"}, 80)
	second := c.Chunk(goSource, SourceMeta{Path: "auth/token.go"}, 80)
	assert.Equal(t, first, second)
}

func TestChunk_Markdown(t *testing.T) {
	src := `Intro line before headings.

# Guide

Welcome.

## Install

Run make.

` + "```sh\n# not a heading\nmake\n```" + `

## Usage

Call it.

# Appendix
`
	chunks := New(0).Chunk(src, SourceMeta{Path: "docs/guide.md"}, 1500)
	assert.Equal(t, []string{"preamble", "Guide", "Guide > Install", "Guide > Usage", "Appendix"}, scopes(chunks))
	assert.Contains(t, chunks[2].Content, "# not a heading")
	assert.Equal(t, LangMarkdown, chunks[0].Language)
}

func TestChunk_SlidingWindowOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "key%02d: value\n", i)
	}
	chunks := New(30).Chunk(b.String(), SourceMeta{Path: "conf.yaml"}, 100)

	require.Greater(t, len(chunks), 2)
	assertBounded(t, chunks, 100)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine, "windows should overlap")
		assert.Greater(t, chunks[i].StartLine, chunks[i-1].StartLine, "windows should advance")
	}
	assert.Equal(t, 30, chunks[len(chunks)-1].EndLine)
}

func TestChunkPages(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "First page paragraph.\n\nSecond paragraph."},
		{Number: 2, Text: ""},
		{Number: 3, Text: strings.Repeat("Long sentence on page three. ", 20)},
	}
	chunks := New(0).ChunkPages(pages, SourceMeta{Path: "report.pdf", Language: "pdf"}, 100)

	require.NotEmpty(t, chunks)
	assertBounded(t, chunks, 100)
	assert.Equal(t, "page 1", chunks[0].Scope)
	assert.Equal(t, 1, chunks[0].StartLine)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.NotEqual(t, 2, ch.StartLine, "empty page yields nothing")
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, 3, last.StartLine)
	assert.Equal(t, "page 3", last.Scope)
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"a.go":        LangGo,
		"b/c.PY":      "python",
		"README.md":   LangMarkdown,
		"notes.txt":   LangText,
		"x.tsx":       "typescript",
		"Makefile":    LangUnknown,
		"config.yaml": LangUnknown,
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
}
