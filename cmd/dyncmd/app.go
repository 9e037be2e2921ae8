package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dyncmd/internal/audit"
	"dyncmd/internal/command"
	"dyncmd/internal/dispatch"
	"dyncmd/internal/fetch"
	"dyncmd/internal/logging"
)

// app is a loaded registry and the resources it owns.
type app struct {
	registry *dispatch.Registry
	locked   *dispatch.Locked
	audit    *audit.Store // nil when auditing is off
}

// openApp builds the registry described by cfg.
func openApp() (*app, error) {
	opts := dispatch.Options{
		Dir:              cfg.Commands.Dir,
		IgnorePermission: cfg.Commands.IgnorePermission,
		Unrestricted:     cfg.Commands.Unrestricted,
		ScriptTimeout:    cfg.GetScriptTimeout(),
		Delimiter:        cfg.Commands.Delimiter,
		Fetcher:          fetch.NewHTTP(cfg.GetFetchTimeout(), cfg.Fetch.MaxBytes),
	}

	a := &app{}
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, err
		}
		a.audit = store
		opts.Recorder = store
	}

	r, err := dispatch.New(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = r
	a.locked = dispatch.NewLocked(r)
	return a, nil
}

// Close releases the audit store.
func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logging.BootWarn("failed to close audit store: %v", err)
		}
	}
}

// consoleSource is the local caller; feedback is written to w.
func consoleSource(w io.Writer) *command.Source {
	return command.NewSource(cfg.Console.Name, cfg.Console.Permission, func(text, _ string) {
		fmt.Fprintln(w, text)
	})
}

// withPrefix makes the prefix optional for local input.
func withPrefix(prefix, input string) string {
	if strings.HasPrefix(input, prefix) {
		return input
	}
	return prefix + input
}

// describeError is the line shown locally for a failed dispatch. Usage
// errors were already printed through feedback.
func describeError(err error) string {
	if err == nil || command.IsUsage(err) {
		return ""
	}
	if ce, ok := command.AsError(err); ok {
		return ce.Error()
	}
	return fmt.Sprintf("error: %v", err)
}

// commandContext is cmd's context, or Background when run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
