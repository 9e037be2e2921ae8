package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"dyncmd/internal/manifest"
	"dyncmd/internal/sandbox"
)

var (
	// ErrBadScript is returned when script text is not valid Go.
	ErrBadScript = errors.New("invalid script")

	// ErrNoFunction is returned when script text defines no function.
	ErrNoFunction = errors.New("script defines no function")
)

// Header is command metadata declared in comments above a script's
// function, e.g.
//
//	// Name: roll
//	// Usage: roll [sides:int]
//	// Description: Rolls a die.
//	// Permission: 0
//	// Children: [{'name': 'loaded', 'permission': 100}]
type Header struct {
	Name        string
	Usage       string
	Description string
	Permission  *int
	Children    []manifest.CommandData
}

// Script is normalized script text plus the metadata read from it.
type Script struct {
	Header Header
	// Source keeps the package clause, imports, header comments and the
	// entry point renamed to sandbox.EntryPoint, gofmt-formatted.
	Source string
	// FuncName is the function's name before renaming.
	FuncName string
}

// ExtractScript normalizes text into a loadable script. Values already set
// in defaults win over the header; unparsable header values are ignored.
// Every top-level declaration other than imports and the first function is
// dropped.
func ExtractScript(text string, defaults Header) (*Script, error) {
	src := text
	if _, err := parser.ParseFile(token.NewFileSet(), "", src, parser.PackageClauseOnly); err != nil {
		src = "package main\n\n" + src
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "script.go", src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScript, err)
	}
	off := func(p token.Pos) int { return fset.Position(p).Offset }

	var (
		entry   *ast.FuncDecl
		imports []*ast.GenDecl
	)
	for _, d := range f.Decls {
		switch d := d.(type) {
		case *ast.GenDecl:
			if d.Tok == token.IMPORT {
				imports = append(imports, d)
			}
		case *ast.FuncDecl:
			if entry == nil && d.Recv == nil {
				entry = d
			}
		}
	}
	if entry == nil {
		return nil, ErrNoFunction
	}

	header := headerComments(fset, f, entry)

	h := defaults
	for _, cg := range header {
		for _, line := range strings.Split(cg.Text(), "\n") {
			applyHeaderLine(&h, line)
		}
	}
	if h.Name == "" {
		h.Name = strings.ReplaceAll(strings.ToLower(entry.Name.Name), "_", "-")
	}

	var b strings.Builder
	b.WriteString("package " + f.Name.Name + "\n\n")
	for _, d := range imports {
		b.WriteString(src[off(d.Pos()):off(d.End())])
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for _, cg := range header {
		b.WriteString(src[off(cg.Pos()):off(cg.End())])
		b.WriteString("\n")
	}
	start, name, end := off(entry.Pos()), off(entry.Name.Pos()), off(entry.End())
	b.WriteString(src[start:name])
	b.WriteString(sandbox.EntryPoint)
	b.WriteString(src[name+len(entry.Name.Name) : end])
	b.WriteString("\n")

	out, err := format.Source([]byte(b.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScript, err)
	}
	if _, err := parser.ParseFile(token.NewFileSet(), "script.go", out, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScript, err)
	}

	return &Script{Header: h, Source: string(out), FuncName: entry.Name.Name}, nil
}

// headerComments returns the comment groups that document entry: its doc
// comment plus the groups stacked directly above it, each separated from the
// next by at most one blank line. Collection stops at any other declaration,
// the package clause, or a wider gap.
func headerComments(fset *token.FileSet, f *ast.File, entry *ast.FuncDecl) []*ast.CommentGroup {
	line := func(p token.Pos) int { return fset.Position(p).Line }

	floor := f.Name.End()
	for _, d := range f.Decls {
		if d.End() <= entry.Pos() && d.End() > floor {
			floor = d.End()
		}
	}

	var header []*ast.CommentGroup
	next := entry.Pos()
	if entry.Doc != nil {
		header = append(header, entry.Doc)
		next = entry.Doc.Pos()
	}
	for i := len(f.Comments) - 1; i >= 0; i-- {
		cg := f.Comments[i]
		if cg.End() > next || cg == entry.Doc {
			continue
		}
		if line(cg.Pos()) <= line(floor) || line(next)-line(cg.End()) > 2 {
			break
		}
		header = append(header, cg)
		next = cg.Pos()
	}
	for i, j := 0, len(header)-1; i < j; i, j = i+1, j-1 {
		header[i], header[j] = header[j], header[i]
	}
	return header
}

// applyHeaderLine sets one header field from a "Key: value" comment line
// unless the field already has a value.
func applyHeaderLine(h *Header, line string) {
	i := strings.Index(line, ":")
	if i < 0 {
		return
	}
	k := strings.ToLower(strings.Join(strings.Fields(line[:i]), ""))
	v := strings.TrimSpace(line[i+1:])

	switch k {
	case "name":
		if h.Name == "" {
			h.Name = v
		}
	case "usage":
		if h.Usage == "" {
			h.Usage = v
		}
	case "description":
		if h.Description == "" {
			h.Description = v
		}
	case "permission":
		if h.Permission == nil {
			if n, err := strconv.Atoi(v); err == nil {
				h.Permission = &n
			}
		}
	case "children":
		if h.Children == nil {
			var wrapped struct {
				Data []manifest.CommandData `json:"data"`
			}
			raw := `{"data": ` + strings.ReplaceAll(v, "'", `"`) + `}`
			if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
				h.Children = wrapped.Data
			}
		}
	}
}
