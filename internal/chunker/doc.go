// Package chunker splits extracted text into bounded chunks for embedding and search.
//
// Chunks are cut at structural boundaries when the source type has them:
//   - Go: top-level declarations found by the Go parser (doc comments included)
//   - Other code: per-language line patterns (def, class, fn, impl, ...)
//   - Markdown: headings, labelled with their heading path ("Guide > Install")
//   - Prose and paged documents: paragraphs packed up to the size limit
//
// Sources without known boundaries are covered by a sliding window of lines
// with a fixed character overlap.
//
// # Size Bound
//
// No chunk content exceeds maxChars runes and no chunk is empty. A unit that is
// too large is subdivided in order: nested scope starts (indented def, func
// literals, methods), blank-line groups, single lines, sentence ends, and
// finally a plain cut every maxChars runes. Content is never dropped.
//
// # Basic Usage
//
//	c := chunker.New(chunker.DefaultOverlapChars)
//	chunks := c.Chunk(text, chunker.SourceMeta{Path: "internal/auth/token.go"}, 1500)
//	for _, ch := range chunks {
//	    fmt.Printf("%s %s lines %d-%d\n", ch.ID, ch.Scope, ch.StartLine, ch.EndLine)
//	}
//
// # Identity
//
// Chunk IDs are "path#ordinal" and content hashes cover the context header
// (file, scope, line range) plus the content. Identical input always yields
// identical chunks, so unchanged files keep their IDs and hashes.
package chunker
