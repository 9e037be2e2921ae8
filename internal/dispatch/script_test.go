package dispatch

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dyncmd/internal/manifest"
)

func TestExtractScriptHeader(t *testing.T) {
	s, err := ExtractScript(rollScript, Header{})
	require.NoError(t, err)

	perm := 10
	want := Header{
		Name:        "roll",
		Usage:       "roll [sides:int]",
		Description: "Rolls a loaded die.",
		Permission:  &perm,
		Children:    []manifest.CommandData{{Name: "loaded", Permission: 100, Overridable: true}},
	}
	if diff := cmp.Diff(want, s.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "rollDie", s.FuncName)

	f, err := parser.ParseFile(token.NewFileSet(), "", s.Source, parser.ParseComments)
	require.NoError(t, err)
	assert.Equal(t, "main", f.Name.Name)
	require.Len(t, f.Decls, 1)
	assert.Contains(t, s.Source, "// Name: roll")
	assert.Contains(t, s.Source, "func Command(args []string")
}

func TestExtractScriptDefaultsWin(t *testing.T) {
	perm := 0
	s, err := ExtractScript(rollScript, Header{Name: "dice", Usage: "dice", Permission: &perm})
	require.NoError(t, err)

	assert.Equal(t, "dice", s.Header.Name)
	assert.Equal(t, "dice", s.Header.Usage)
	assert.Equal(t, "Rolls a loaded die.", s.Header.Description)
	assert.Equal(t, 0, *s.Header.Permission)
}

func TestExtractScriptKeepsImports(t *testing.T) {
	src := `package tools

import (
	"fmt"
	"strings"
)

const greeting = "hi"

type helper struct{}

func (helper) Do() {}

// Description: Shouts.
func Shout_Loud(args []string, kwargs map[string]any) (string, error) {
	return fmt.Sprint(strings.ToUpper(strings.Join(args, " "))), nil
}
`
	s, err := ExtractScript(src, Header{})
	require.NoError(t, err)

	assert.Equal(t, "shout-loud", s.Header.Name)
	assert.Equal(t, "Shouts.", s.Header.Description)
	assert.Nil(t, s.Header.Permission)
	assert.True(t, strings.HasPrefix(s.Source, "package tools\n"))
	assert.Contains(t, s.Source, `"strings"`)
	assert.NotContains(t, s.Source, "greeting")
	assert.NotContains(t, s.Source, "helper")
	assert.Contains(t, s.Source, "func Command(")
}

func TestExtractScriptHeaderStopsAtDeclarations(t *testing.T) {
	src := `// Package notes is not a header.
// Permission: 900
package main

import "strings"

// Name: limit
const limit = 3

// Usage: greet [who]

// Description: Greets.
func greet(args []string, kwargs map[string]any) (string, error) {
	// Permission: 1
	return strings.Repeat("hi ", limit), nil
}
`
	s, err := ExtractScript(src, Header{})
	require.NoError(t, err)

	assert.Equal(t, "greet", s.Header.Name)
	assert.Equal(t, "greet [who]", s.Header.Usage)
	assert.Equal(t, "Greets.", s.Header.Description)
	assert.Nil(t, s.Header.Permission)
	assert.Contains(t, s.Source, "// Usage: greet [who]")
	assert.NotContains(t, s.Source, "Name: limit")
	assert.NotContains(t, s.Source, "Package notes")
}

func TestExtractScriptHeaderNeedsAdjacency(t *testing.T) {
	src := `// Permission: 5



// Description: Far apart.
func Cmd(args []string, kwargs map[string]any) (string, error) { return "", nil }
`
	s, err := ExtractScript(src, Header{})
	require.NoError(t, err)
	assert.Equal(t, "Far apart.", s.Header.Description)
	assert.Nil(t, s.Header.Permission)
}

func TestExtractScriptIgnoresBadHeaderValues(t *testing.T) {
	src := `// Permission: lots
// Children: not json
// Some Other Key: value
// no colon here
func Cmd(args []string, kwargs map[string]any) (string, error) { return "", nil }
`
	s, err := ExtractScript(src, Header{})
	require.NoError(t, err)

	assert.Equal(t, "cmd", s.Header.Name)
	assert.Nil(t, s.Header.Permission)
	assert.Nil(t, s.Header.Children)
}

func TestExtractScriptKeyNormalization(t *testing.T) {
	src := `//   DESCRIPTION  : spaced out
//   Per Mission: 7
func Cmd(args []string, kwargs map[string]any) (string, error) { return "", nil }
`
	s, err := ExtractScript(src, Header{})
	require.NoError(t, err)
	assert.Equal(t, "spaced out", s.Header.Description)
	require.NotNil(t, s.Header.Permission)
	assert.Equal(t, 7, *s.Header.Permission)
}

func TestExtractScriptErrors(t *testing.T) {
	_, err := ExtractScript("const x = 1", Header{})
	assert.ErrorIs(t, err, ErrNoFunction)

	_, err = ExtractScript("type T struct{}\nfunc (T) M() {}", Header{})
	assert.ErrorIs(t, err, ErrNoFunction)

	_, err = ExtractScript("func {", Header{})
	assert.ErrorIs(t, err, ErrBadScript)
}
