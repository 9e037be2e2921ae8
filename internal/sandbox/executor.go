// Package sandbox compiles command scripts with the yaegi Go interpreter.
//
// Restricted scripts may import only an allow-listed subset of the standard
// library plus "dyncmd/sdk"; they have no file system, network or process
// access beyond what the host injects. Unrestricted scripts get the whole
// standard library and the raw host types.
package sandbox

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"github.com/traefik/yaegi/stdlib/unrestricted"

	"dyncmd/internal/command"
	"dyncmd/internal/logging"
)

// EntryPoint is the function every script must define.
const EntryPoint = "Command"

// DefaultTimeout bounds a single script invocation.
const DefaultTimeout = 5 * time.Second

// slowCompile is the compile time above which a warning is logged.
const slowCompile = time.Second

// DefaultAllowedPackages is the restricted standard library surface.
var DefaultAllowedPackages = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"math/rand",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// Options configures an Executor.
type Options struct {
	Unrestricted bool
	// Timeout bounds each invocation; zero uses DefaultTimeout, negative
	// disables the watchdog.
	Timeout time.Duration
	// AllowedPackages replaces DefaultAllowedPackages when non-nil.
	AllowedPackages []string
	// HostSymbols are extra host values exported through the SDK package in
	// unrestricted mode.
	HostSymbols map[string]reflect.Value
}

// Executor turns script sources into command executables.
type Executor struct {
	opts    Options
	allowed map[string]bool
	symbols interp.Exports
}

// New creates an executor.
func New(opts Options) *Executor {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	pkgs := opts.AllowedPackages
	if pkgs == nil {
		pkgs = DefaultAllowedPackages
	}
	e := &Executor{
		opts:    opts,
		allowed: make(map[string]bool, len(pkgs)),
		symbols: make(interp.Exports),
	}
	for _, p := range pkgs {
		e.allowed[p] = true
	}
	if opts.Unrestricted {
		return e
	}
	// stdlib.Symbols is keyed "<import path>/<package name>".
	for _, p := range pkgs {
		if syms, ok := stdlib.Symbols[p+"/"+path.Base(p)]; ok {
			e.symbols[p+"/"+path.Base(p)] = syms
		}
	}
	return e
}

// Unrestricted reports whether scripts run with the full standard library.
func (e *Executor) Unrestricted() bool { return e.opts.Unrestricted }

// AllowedPackages lists the importable standard library packages.
func (e *Executor) AllowedPackages() []string {
	out := make([]string, 0, len(e.allowed))
	for p := range e.allowed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Compile evaluates source and returns its entry point as a command.Func.
// Every failure is a *CompileError.
func (e *Executor) Compile(filename, source string) (command.Func, error) {
	timer := logging.Get(logging.CategorySandbox).StartTimer("compile " + filename)
	defer timer.StopWithThreshold(slowCompile)

	src, pkg, err := e.prepare(filename, source)
	if err != nil {
		return nil, &CompileError{File: filename, Err: err}
	}

	i, err := e.interpreter()
	if err != nil {
		return nil, &CompileError{File: filename, Err: err}
	}
	if err := e.load(i, filename, src); err != nil {
		return nil, &CompileError{File: filename, Err: err}
	}

	v, err := evalValue(i, pkg+"."+EntryPoint)
	if err != nil {
		return nil, &CompileError{File: filename, Err: fmt.Errorf("%w: %v", ErrNoEntryPoint, err)}
	}
	entry, ok := v.Interface().(func([]string, map[string]any) (string, error))
	if !ok {
		return nil, &CompileError{
			File: filename,
			Err:  fmt.Errorf("%w: want func([]string, map[string]any) (string, error), got %s", ErrBadSignature, v.Type()),
		}
	}

	logging.SandboxDebug("compiled %s (package %s, unrestricted=%v)", filename, pkg, e.opts.Unrestricted)
	return e.wrap(filename, entry), nil
}

// prepare validates imports and adds a package clause when missing. It
// returns the source to evaluate and its package name.
func (e *Executor) prepare(filename, source string) (string, string, error) {
	if _, err := parser.ParseFile(token.NewFileSet(), filename, source, parser.PackageClauseOnly); err != nil {
		source = "package main\n\n" + source
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, source, parser.SkipObjectResolution)
	if err != nil {
		return "", "", err
	}

	if !e.opts.Unrestricted {
		var forbidden []string
		for _, imp := range f.Imports {
			p, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return "", "", err
			}
			if p != SDKPath && !e.allowed[p] {
				forbidden = append(forbidden, p)
			}
		}
		if len(forbidden) > 0 {
			return "", "", fmt.Errorf("%w: %v (allowed: %v)", ErrForbiddenImport, forbidden, e.AllowedPackages())
		}
		if err := checkStatements(fset, f); err != nil {
			return "", "", err
		}
	}
	return source, f.Name.Name, nil
}

// builtins may be called from a package-level initializer unless the
// script redeclares them.
var builtins = map[string]bool{
	"append": true, "cap": true, "complex": true, "imag": true, "len": true,
	"make": true, "max": true, "min": true, "new": true, "real": true,
	"bool": true, "byte": true, "float64": true, "int": true, "int64": true,
	"rune": true, "string": true, "uint": true, "uint64": true,
}

// checkStatements rejects code a restricted script could run outside the
// Command call: goroutines, init functions and package-level initializers
// that call script code or block.
func checkStatements(fset *token.FileSet, f *ast.File) error {
	var err error
	ast.Inspect(f, func(n ast.Node) bool {
		if g, ok := n.(*ast.GoStmt); ok && err == nil {
			err = fmt.Errorf("%w: go statement at %s", ErrForbiddenStatement, fset.Position(g.Go))
		}
		return err == nil
	})
	if err != nil {
		return err
	}

	pkgs := make(map[string]bool, len(f.Imports))
	for _, imp := range f.Imports {
		p, _ := strconv.Unquote(imp.Path.Value)
		name := path.Base(p)
		if imp.Name != nil {
			name = imp.Name.Name
		}
		pkgs[name] = true
	}
	declared := make(map[string]bool)
	for _, d := range f.Decls {
		switch d := d.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil && d.Name.Name == "init" {
				return fmt.Errorf("%w: func init", ErrForbiddenStatement)
			}
			if d.Recv == nil {
				declared[d.Name.Name] = true
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch spec := spec.(type) {
				case *ast.ValueSpec:
					for _, n := range spec.Names {
						declared[n.Name] = true
					}
				case *ast.TypeSpec:
					declared[spec.Name.Name] = true
				}
			}
		}
	}

	for _, d := range f.Decls {
		g, ok := d.(*ast.GenDecl)
		if !ok || g.Tok != token.VAR {
			continue
		}
		for _, spec := range g.Specs {
			for _, v := range spec.(*ast.ValueSpec).Values {
				if err := checkInitializer(v, pkgs, declared); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkInitializer allows calls into imported packages and builtins only.
func checkInitializer(expr ast.Expr, pkgs, declared map[string]bool) error {
	var err error
	ast.Inspect(expr, func(n ast.Node) bool {
		if err != nil {
			return false
		}
		switch n := n.(type) {
		case *ast.FuncLit:
			err = fmt.Errorf("%w: function literal in package-level initializer", ErrForbiddenStatement)
		case *ast.UnaryExpr:
			if n.Op == token.ARROW {
				err = fmt.Errorf("%w: channel receive in package-level initializer", ErrForbiddenStatement)
			}
		case *ast.CallExpr:
			switch fun := n.Fun.(type) {
			case *ast.Ident:
				if builtins[fun.Name] && !declared[fun.Name] {
					return true
				}
			case *ast.SelectorExpr:
				if x, ok := fun.X.(*ast.Ident); ok && pkgs[x.Name] && !declared[x.Name] {
					return true
				}
			case *ast.ArrayType, *ast.MapType:
				return true
			}
			err = fmt.Errorf("%w: call to %s in package-level initializer", ErrForbiddenStatement, exprString(n.Fun))
		}
		return err == nil
	})
	return err
}

func exprString(e ast.Expr) string {
	switch e := e.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return exprString(e.X) + "." + e.Sel.Name
	}
	return fmt.Sprintf("%T", e)
}

func (e *Executor) interpreter() (*interp.Interpreter, error) {
	i := interp.New(interp.Options{Unrestricted: e.opts.Unrestricted})
	if e.opts.Unrestricted {
		if err := i.Use(stdlib.Symbols); err != nil {
			return nil, fmt.Errorf("failed to load stdlib: %w", err)
		}
		if err := i.Use(unrestricted.Symbols); err != nil {
			return nil, fmt.Errorf("failed to load unrestricted stdlib: %w", err)
		}
	} else if err := i.Use(e.symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib subset: %w", err)
	}
	if err := i.Use(sdkExports(e.opts.Unrestricted, e.opts.HostSymbols)); err != nil {
		return nil, fmt.Errorf("failed to load sdk: %w", err)
	}
	return i, nil
}

// load evaluates the script's declarations. Package-level initializers run
// here, so they get the same deadline as an invocation.
func (e *Executor) load(i *interp.Interpreter, filename, src string) error {
	if e.opts.Timeout <= 0 {
		_, err := evalValue(i, src)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
	defer cancel()
	_, err := i.EvalWithContext(ctx, src)
	if err != nil && ctx.Err() != nil {
		logging.SandboxWarn("loading %s abandoned: %v", filename, ctx.Err())
		return fmt.Errorf("%w: loading %s: %w", ErrTimeout, filename, ctx.Err())
	}
	return err
}

// evalValue runs i.Eval, turning interpreter panics into errors.
func evalValue(i *interp.Interpreter, src string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	return i.Eval(src)
}

type result struct {
	out string
	err error
}

// wrap runs entry on its own goroutine so a panicking or overrunning script
// cannot take the caller down with it. An overrunning script keeps its
// goroutine until it returns.
func (e *Executor) wrap(filename string, entry func([]string, map[string]any) (string, error)) command.Func {
	timeout := e.opts.Timeout
	return func(ctx context.Context, args []string, kwargs map[string]any) (string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		done := make(chan result, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("script %s panicked: %v", filename, r)}
				}
			}()
			out, err := entry(args, kwargs)
			done <- result{out: out, err: err}
		}()

		select {
		case r := <-done:
			return r.out, r.err
		case <-ctx.Done():
			logging.SandboxWarn("script %s abandoned: %v", filename, ctx.Err())
			return "", fmt.Errorf("%w: %s: %w", ErrTimeout, filename, ctx.Err())
		}
	}
}
