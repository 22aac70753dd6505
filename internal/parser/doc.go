// Package parser finds top-level declaration boundaries in Go source files.
//
// The chunker uses these boundaries to split Go files at function, method and
// type declarations instead of relying on line patterns. Doc comments are
// attached to the declaration that follows them, so a chunk never separates a
// function from its documentation.
//
// # Basic Usage
//
//	p := parser.New()
//	result, err := p.ParseSource("token.go", src)
//	if err != nil {
//	    return err
//	}
//	for _, scope := range result.Scopes {
//	    fmt.Printf("%s: lines %d-%d\n", scope.Label(), scope.StartLine, scope.EndLine)
//	}
//
// # Error Handling
//
// Syntax errors are non-fatal. go/parser usually returns a partial AST and
// the declarations it contains are still reported, with the error recorded in
// Result.Errors. ParseSource only fails when no AST could be built at all, in
// which case callers fall back to pattern-based boundaries.
package parser
