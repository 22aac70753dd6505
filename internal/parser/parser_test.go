package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSource = `package testpkg

import (
	"fmt"
	"strings"
)

// User represents a user in the system
type User struct {
	ID   int
	Name string
}

// GetName returns the user's name
func (u *User) GetName() string {
	return u.Name
}

// NewUser creates a new user
func NewUser(id int, name string) *User {
	return &User{ID: id, Name: strings.TrimSpace(name)}
}

const (
	A = 1
	B = 2
)

var debug = fmt.Sprint("x")
`

func TestParseSource_Scopes(t *testing.T) {
	p := New()
	result, err := p.ParseSource("user.go", []byte(sampleSource))
	require.NoError(t, err)

	assert.Equal(t, "testpkg", result.PackageName)
	assert.False(t, result.HasErrors())
	require.Len(t, result.Scopes, 6)

	tests := []struct {
		label string
		start int
		end   int
	}{
		{"import", 3, 6},
		{"type User", 8, 12},
		{"method User.GetName", 14, 17},
		{"function NewUser", 19, 22},
		{"const group", 24, 27},
		{"var debug", 29, 29},
	}
	for i, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			scope := result.Scopes[i]
			assert.Equal(t, tt.label, scope.Label())
			assert.Equal(t, tt.start, scope.StartLine, "start includes doc comment")
			assert.Equal(t, tt.end, scope.EndLine)
		})
	}
}

func TestParseSource_GenericReceiver(t *testing.T) {
	src := `package p

type List[T any] struct{ items []T }

func (l *List[T]) Len() int { return len(l.items) }
`
	result, err := New().ParseSource("list.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, result.Scopes, 2)
	assert.Equal(t, "method List.Len", result.Scopes[1].Label())
}

func TestParseSource_SyntaxError(t *testing.T) {
	src := `package broken

func ok() {}

func incomplete( {
`
	result, err := New().ParseSource("broken.go", []byte(src))
	require.NoError(t, err, "partial AST should still be returned")
	assert.True(t, result.HasErrors())

	labels := make([]string, 0, len(result.Scopes))
	for _, s := range result.Scopes {
		labels = append(labels, s.Label())
	}
	assert.Contains(t, labels, "function ok")
}

func TestParseSource_Empty(t *testing.T) {
	result, err := New().ParseSource("empty.go", []byte("package empty\n"))
	require.NoError(t, err)
	assert.Empty(t, result.Scopes)
}

func TestParseSource_NotGo(t *testing.T) {
	_, err := New().ParseSource("x.go", []byte("this is not go"))
	// No package clause means there is nothing to scope
	assert.Error(t, err)
}
