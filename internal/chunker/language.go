package chunker

import (
	"path"
	"regexp"
	"strings"
)

// Source languages with special handling
const (
	LangGo       = "go"
	LangMarkdown = "markdown"
	LangText     = "text"
	LangUnknown  = "unknown"
)

// boundaryPatterns match the first line of a new top-level scope
var boundaryPatterns = map[string]*regexp.Regexp{
	"python":     regexp.MustCompile(`^(class |def |async def )`),
	"javascript": regexp.MustCompile(`^(export\s+)?(function |class |const \w+ = |let \w+ = |var \w+ = )`),
	"typescript": regexp.MustCompile(`^(export\s+)?(function |class |const \w+ = |let \w+ = |interface |type |enum )`),
	LangGo:       regexp.MustCompile(`^(func |type )`),
	"rust":       regexp.MustCompile(`^(pub\s+)?(fn |struct |enum |impl |trait |mod )`),
	"java":       regexp.MustCompile(`^(public |private |protected )?(static )?(class |interface |enum |void |int |String )`),
	"ruby":       regexp.MustCompile(`^(class |module |def )`),
	"php":        regexp.MustCompile(`^(class |function |public |private |protected )`),
	"c":          regexp.MustCompile(`^(\w+\s+\*?\w+\s*\()`),
	"cpp":        regexp.MustCompile(`^(class |struct |namespace |template |(\w+\s+\*?\w+\s*\())`),
}

// nestedPatterns match indented scope starts (methods inside classes, closures)
var nestedPatterns = map[string]*regexp.Regexp{
	"python":     regexp.MustCompile(`^(def |async def |class )`),
	"javascript": regexp.MustCompile(`^(async\s+)?(function |\w+\s*\([^)]*\)\s*\{)`),
	"typescript": regexp.MustCompile(`^(public |private |protected )?(async\s+)?(function |\w+\s*\([^)]*\)\s*[:{])`),
	LangGo:       regexp.MustCompile(`^(\w+\s*:?=\s*func\s*\(|func\s*\()`),
	"rust":       regexp.MustCompile(`^(pub\s+)?(async\s+)?fn `),
	"java":       regexp.MustCompile(`^(public |private |protected )(static )?[\w<>\[\]]+ \w+\s*\(`),
	"ruby":       regexp.MustCompile(`^def `),
	"php":        regexp.MustCompile(`^(public |private |protected )?(static )?function `),
	"cpp":        regexp.MustCompile(`^(\w+\s+\*?\w+\s*\()`),
}

var extToLanguage = map[string]string{
	".py": "python",
	".js": "javascript", ".jsx": "javascript", ".mjs": "javascript",
	".ts": "typescript", ".tsx": "typescript",
	".go":   LangGo,
	".rs":   "rust",
	".java": "java", ".kt": "java", ".scala": "java", ".cs": "java",
	".rb": "ruby", ".rake": "ruby",
	".php": "php",
	".c":   "c", ".h": "c",
	".cpp": "cpp", ".hpp": "cpp", ".cc": "cpp", ".cxx": "cpp",
	".md": LangMarkdown, ".markdown": LangMarkdown,
	".txt": LangText, ".rst": LangText, ".log": LangText,
}

// DetectLanguage maps a file path to a language key by extension
func DetectLanguage(filePath string) string {
	if lang, ok := extToLanguage[strings.ToLower(path.Ext(filePath))]; ok {
		return lang
	}
	return LangUnknown
}

type scopeRule struct {
	pattern *regexp.Regexp
	label   string
}

// scopeRules extract "kind name" labels from the first line of a scope
var scopeRules = map[string][]scopeRule{
	"python": {
		{regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`), "function"},
		{regexp.MustCompile(`^class\s+(\w+)`), "class"},
	},
	"javascript": {
		{regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+(\w+)`), "function"},
		{regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(\w+)`), "const"},
	},
	"typescript": {
		{regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+(\w+)`), "function"},
		{regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)`), "interface"},
		{regexp.MustCompile(`^(?:export\s+)?type\s+(\w+)`), "type"},
		{regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(\w+)`), "const"},
	},
	LangGo: {
		{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)`), "function"},
		{regexp.MustCompile(`^type\s+(\w+)`), "type"},
	},
	"rust": {
		{regexp.MustCompile(`^(?:pub\s+)?fn\s+(\w+)`), "function"},
		{regexp.MustCompile(`^(?:pub\s+)?struct\s+(\w+)`), "struct"},
		{regexp.MustCompile(`^(?:pub\s+)?enum\s+(\w+)`), "enum"},
		{regexp.MustCompile(`^(?:pub\s+)?trait\s+(\w+)`), "trait"},
		{regexp.MustCompile(`^impl(?:<[^>]*>)?\s+(\w+)`), "impl"},
	},
	"ruby": {
		{regexp.MustCompile(`^def\s+([\w.?!]+)`), "function"},
		{regexp.MustCompile(`^class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^module\s+(\w+)`), "module"},
	},
}

// detectScope builds a scope label from the first non-blank line of a span
func detectScope(firstLine, language string) string {
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == "" {
		return "module-level"
	}

	for _, rule := range scopeRules[language] {
		if m := rule.pattern.FindStringSubmatch(firstLine); m != nil {
			return rule.label + " " + m[1]
		}
	}

	fields := strings.Fields(firstLine)
	return truncateLabel(fields[0])
}

const maxLabelChars = 60

func truncateLabel(s string) string {
	r := []rune(s)
	if len(r) <= maxLabelChars {
		return s
	}
	return string(r[:maxLabelChars])
}
