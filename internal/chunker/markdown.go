package chunker

import (
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// heading is a markdown heading located by line
type heading struct {
	line  int // 0-based
	level int
	title string
}

// markdownHeadings parses source with goldmark and returns its headings in order.
// Headings inside code blocks are not headings in the AST and are skipped.
func markdownHeadings(md goldmark.Markdown, source []byte) []heading {
	doc := md.Parser().Parse(text.NewReader(source))
	lineStarts := lineOffsets(source)

	var headings []heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		offset := h.Lines().At(0).Start
		headings = append(headings, heading{
			line:  lineAt(lineStarts, offset),
			level: h.Level,
			title: headingTitle(h, source),
		})
		return ast.WalkSkipChildren, nil
	})
	return headings
}

// headingTitle concatenates the text segments under a heading
func headingTitle(h *ast.Heading, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(h, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// headingPaths returns the "A > B" path of every heading
func headingPaths(headings []heading) []string {
	paths := make([]string, len(headings))
	var stack []heading
	for i, h := range headings {
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, h)
		titles := make([]string, len(stack))
		for j, s := range stack {
			titles[j] = s.title
		}
		paths[i] = truncateLabel(strings.Join(titles, " > "))
	}
	return paths
}

func lineOffsets(source []byte) []int {
	starts := []int{0}
	for i, c := range source {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineAt returns the 0-based line containing byte offset
func lineAt(starts []int, offset int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
}
