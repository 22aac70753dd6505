package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// piece is a chunk before identity and hashing are assigned
type piece struct {
	startLine int // 1-indexed, inclusive
	endLine   int
	scope     string
	content   string
}

// lineRange is a half-open range of 0-based line indexes
type lineRange struct {
	a, b int
}

// split levels, tried in order when a span is too large
const (
	levelNested = iota
	levelBlank
	levelLines
)

// splitter subdivides line spans so no piece exceeds maxChars
type splitter struct {
	lines    []string
	sizes    []int // rune count of each line
	maxChars int
	nested   *regexp.Regexp
}

func newSplitter(text string, maxChars int, nested *regexp.Regexp) *splitter {
	lines := strings.Split(text, "\n")
	sizes := make([]int, len(lines))
	for i, l := range lines {
		sizes[i] = utf8.RuneCountInString(l)
	}
	return &splitter{lines: lines, sizes: sizes, maxChars: maxChars, nested: nested}
}

func (s *splitter) spanSize(a, b int) int {
	if b <= a {
		return 0
	}
	n := b - a - 1 // newlines between lines
	for i := a; i < b; i++ {
		n += s.sizes[i]
	}
	return n
}

func (s *splitter) spanText(a, b int) string {
	return strings.Join(s.lines[a:b], "\n")
}

func (s *splitter) blank(i int) bool {
	return strings.TrimSpace(s.lines[i]) == ""
}

// trim drops blank lines at both ends of [a, b)
func (s *splitter) trim(a, b int) (int, int) {
	for a < b && s.blank(a) {
		a++
	}
	for b > a && s.blank(b-1) {
		b--
	}
	return a, b
}

// split emits [a, b) as one piece when it fits, otherwise subdivides it
func (s *splitter) split(a, b int, scope string, level int, out *[]piece) {
	a, b = s.trim(a, b)
	if a >= b {
		return
	}
	if s.spanSize(a, b) <= s.maxChars {
		*out = append(*out, piece{startLine: a + 1, endLine: b, scope: scope, content: s.spanText(a, b)})
		return
	}

	switch level {
	case levelNested:
		if parts := s.nestedParts(a, b); len(parts) > 1 {
			for _, p := range parts {
				s.split(p.a, p.b, scope, levelNested, out)
			}
			return
		}
		s.split(a, b, scope, levelBlank, out)

	case levelBlank:
		if parts := s.blankParts(a, b); len(parts) > 1 {
			for _, p := range s.pack(parts) {
				s.split(p.a, p.b, scope, levelLines, out)
			}
			return
		}
		s.split(a, b, scope, levelLines, out)

	default:
		if b-a > 1 {
			parts := make([]lineRange, 0, b-a)
			for i := a; i < b; i++ {
				parts = append(parts, lineRange{i, i + 1})
			}
			for _, p := range s.pack(parts) {
				s.split(p.a, p.b, scope, levelLines, out)
			}
			return
		}
		s.splitLine(a, scope, out)
	}
}

// nestedParts cuts [a, b) at indented scope starts, excluding line a
func (s *splitter) nestedParts(a, b int) []lineRange {
	if s.nested == nil {
		return nil
	}
	var parts []lineRange
	start := a
	for i := a + 1; i < b; i++ {
		line := s.lines[i]
		trimmed := strings.TrimLeft(line, " \t")
		if len(trimmed) == len(line) {
			continue
		}
		if s.nested.MatchString(trimmed) {
			parts = append(parts, lineRange{start, i})
			start = i
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return append(parts, lineRange{start, b})
}

// blankParts splits [a, b) into runs of non-blank lines
func (s *splitter) blankParts(a, b int) []lineRange {
	var parts []lineRange
	start := -1
	for i := a; i < b; i++ {
		if s.blank(i) {
			if start >= 0 {
				parts = append(parts, lineRange{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		parts = append(parts, lineRange{start, b})
	}
	return parts
}

// pack greedily merges adjacent ranges while the merged span fits
func (s *splitter) pack(parts []lineRange) []lineRange {
	if len(parts) == 0 {
		return nil
	}
	packed := make([]lineRange, 0, len(parts))
	cur := parts[0]
	for _, p := range parts[1:] {
		if s.spanSize(cur.a, p.b) <= s.maxChars {
			cur.b = p.b
			continue
		}
		packed = append(packed, cur)
		cur = p
	}
	return append(packed, cur)
}

// splitLine breaks one over-long line at sentence ends, then at maxChars runes
func (s *splitter) splitLine(i int, scope string, out *[]piece) {
	for _, text := range splitText(s.lines[i], s.maxChars) {
		if strings.TrimSpace(text) == "" {
			continue
		}
		*out = append(*out, piece{startLine: i + 1, endLine: i + 1, scope: scope, content: text})
	}
}

var sentenceEnd = regexp.MustCompile(`[.!?;]\s+`)

// splitText divides text into consecutive parts of at most maxChars runes.
// Concatenating the parts yields text unchanged.
func splitText(text string, maxChars int) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[last:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		sentences = append(sentences, text[last:])
	}

	var parts []string
	var cur strings.Builder
	curSize := 0
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			curSize = 0
		}
	}

	for _, sentence := range sentences {
		n := utf8.RuneCountInString(sentence)
		if n > maxChars {
			flush()
			parts = append(parts, hardSplit(sentence, maxChars)...)
			continue
		}
		if curSize+n > maxChars {
			flush()
		}
		cur.WriteString(sentence)
		curSize += n
	}
	flush()
	return parts
}

// hardSplit cuts text every maxChars runes
func hardSplit(text string, maxChars int) []string {
	var parts []string
	count := 0
	start := 0
	for i := range text {
		if count == maxChars {
			parts = append(parts, text[start:i])
			start = i
			count = 0
		}
		count++
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

// windows covers [a, b) with line windows of at most maxChars, each starting
// so that roughly overlapChars of the previous window is repeated
func (s *splitter) windows(a, b int, overlapChars int, scopeOf func(a, b int) string, out *[]piece) {
	start := a
	for start < b {
		if s.blank(start) {
			start++
			continue
		}
		if s.sizes[start] > s.maxChars {
			s.splitLine(start, scopeOf(start, start+1), out)
			start++
			continue
		}

		end := start + 1
		for end < b && s.spanSize(start, end+1) <= s.maxChars {
			end++
		}
		ta, tb := s.trim(start, end)
		if ta < tb {
			*out = append(*out, piece{startLine: ta + 1, endLine: tb, scope: scopeOf(ta, tb), content: s.spanText(ta, tb)})
		}
		if end >= b {
			return
		}

		next := end
		for next > start+1 && s.spanSize(next-1, end) <= overlapChars {
			next--
		}
		start = next
	}
}
