package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"
)

// ScopeKind classifies a top-level Go declaration
type ScopeKind string

const (
	KindFunction ScopeKind = "function"
	KindMethod   ScopeKind = "method"
	KindType     ScopeKind = "type"
	KindConst    ScopeKind = "const"
	KindVar      ScopeKind = "var"
	KindImport   ScopeKind = "import"
)

// Scope is a top-level declaration span, including its doc comment
type Scope struct {
	Kind      ScopeKind
	Name      string
	Receiver  string // Method receiver type name, empty otherwise
	StartLine int    // 1-indexed, first line of the doc comment when present
	EndLine   int    // 1-indexed, inclusive
}

// Label returns the human-readable scope label used in chunk headers
func (s Scope) Label() string {
	switch s.Kind {
	case KindMethod:
		return fmt.Sprintf("method %s.%s", s.Receiver, s.Name)
	case KindFunction, KindType:
		return fmt.Sprintf("%s %s", s.Kind, s.Name)
	case KindConst, KindVar:
		if s.Name != "" {
			return fmt.Sprintf("%s %s", s.Kind, s.Name)
		}
		return fmt.Sprintf("%s group", s.Kind)
	default:
		return string(s.Kind)
	}
}

// ParseError represents a syntax error reported by go/parser
type ParseError struct {
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", pe.Line, pe.Column, pe.Message)
}

// Result holds the declarations found in one Go source file
type Result struct {
	PackageName string
	Scopes      []Scope // Sorted by StartLine
	Errors      []ParseError
}

// HasErrors returns true if any parsing errors occurred
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Parser finds top-level declaration boundaries in Go source
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseSource parses Go source and returns its top-level scopes.
// Syntax errors are recorded in Result.Errors and whatever partial AST the
// parser produced is still used. An error is returned only when no AST exists.
func (p *Parser) ParseSource(filename string, src []byte) (*Result, error) {
	fset := token.NewFileSet()
	result := &Result{}

	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		result.Errors = append(result.Errors, ParseError{Message: err.Error()})
	}
	// go/parser substitutes an empty file when the package clause is unreadable
	if file == nil || file.Name == nil || file.Name.Name == "" {
		if err == nil {
			err = fmt.Errorf("missing package clause")
		}
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	result.PackageName = file.Name.Name

	e := &scopeExtractor{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}

	sort.SliceStable(e.scopes, func(i, j int) bool {
		return e.scopes[i].StartLine < e.scopes[j].StartLine
	})
	result.Scopes = e.scopes
	return result, nil
}

// scopeExtractor collects top-level declaration spans
type scopeExtractor struct {
	fset   *token.FileSet
	scopes []Scope
}

// extractFunction records function and method declarations
func (e *scopeExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	scope := Scope{
		Kind:      KindFunction,
		Name:      funcDecl.Name.Name,
		StartLine: e.startLine(funcDecl.Pos(), funcDecl.Doc),
		EndLine:   e.line(funcDecl.End()),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		scope.Kind = KindMethod
		scope.Receiver = receiverType(funcDecl.Recv.List[0].Type)
	}

	e.scopes = append(e.scopes, scope)
}

// extractGenDecl records type, const, var and import declarations.
// A grouped declaration is one scope; a single-spec declaration takes the spec's name.
func (e *scopeExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	scope := Scope{
		StartLine: e.startLine(genDecl.Pos(), genDecl.Doc),
		EndLine:   e.line(genDecl.End()),
	}

	switch genDecl.Tok {
	case token.IMPORT:
		scope.Kind = KindImport
	case token.TYPE:
		scope.Kind = KindType
	case token.CONST:
		scope.Kind = KindConst
	case token.VAR:
		scope.Kind = KindVar
	default:
		return
	}

	if len(genDecl.Specs) == 1 {
		switch s := genDecl.Specs[0].(type) {
		case *ast.TypeSpec:
			scope.Name = s.Name.Name
		case *ast.ValueSpec:
			if len(s.Names) > 0 {
				scope.Name = s.Names[0].Name
			}
		}
	} else if scope.Kind == KindType && len(genDecl.Specs) > 1 {
		names := make([]string, 0, len(genDecl.Specs))
		for _, spec := range genDecl.Specs {
			if ts, ok := spec.(*ast.TypeSpec); ok {
				names = append(names, ts.Name.Name)
			}
		}
		scope.Name = strings.Join(names, ", ")
	}

	e.scopes = append(e.scopes, scope)
}

func (e *scopeExtractor) startLine(pos token.Pos, doc *ast.CommentGroup) int {
	if doc != nil && doc.Pos().IsValid() {
		return e.line(doc.Pos())
	}
	return e.line(pos)
}

func (e *scopeExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

// receiverType extracts the receiver type name from a method
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	}
	return ""
}
