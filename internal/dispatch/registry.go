// Package dispatch implements the command registry: it mirrors the manifest,
// resolves prefixed input to commands, runs them and applies manifest
// mutations.
//
// A Registry is not safe for concurrent use; wrap it in Locked when more than
// one goroutine dispatches or reloads.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"dyncmd/internal/audit"
	"dyncmd/internal/capability"
	"dyncmd/internal/command"
	"dyncmd/internal/fetch"
	"dyncmd/internal/logging"
	"dyncmd/internal/manifest"
	"dyncmd/internal/sandbox"
)

// Registry errors.
var (
	// ErrNotOverridable is returned when a mutation targets a locked entry.
	ErrNotOverridable = errors.New("command is not overridable")

	// ErrNoFetcher is returned when a link is added without a fetcher.
	ErrNoFetcher = errors.New("no fetcher configured")
)

// DefaultDelimiter separates the command name and its arguments.
const DefaultDelimiter = " "

// Recorder receives one entry per dispatched input.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Options configures a Registry.
type Options struct {
	// Dir holds commands.json and the command scripts.
	Dir string
	// IgnorePermission lets every caller run every command.
	IgnorePermission bool
	// Unrestricted runs scripts with the full standard library and without
	// proxying injected values. Never enable it for untrusted scripts.
	Unrestricted bool
	// ScriptTimeout bounds one script invocation; see sandbox.Options.
	ScriptTimeout time.Duration
	Delimiter     string
	Fetcher       fetch.Fetcher
	Recorder      Recorder
	// Logger defaults to the registry category; logging.NewNop silences it.
	Logger *logging.Logger
}

// Registry owns the command set and its manifest mirror.
type Registry struct {
	opts     Options
	store    *manifest.Store
	exec     *sandbox.Executor
	log      *logging.Logger
	prefix   string
	data     []manifest.CommandData
	commands map[string]*command.Command
}

// New creates a registry and loads the manifest. A missing or invalid
// manifest is an error.
func New(opts Options) (*Registry, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("commands directory is required")
	}
	if opts.Delimiter == "" {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get(logging.CategoryRegistry)
	}

	r := &Registry{
		opts:     opts,
		store:    manifest.NewStore(opts.Dir),
		log:      opts.Logger,
		commands: make(map[string]*command.Command),
	}
	r.exec = sandbox.New(sandbox.Options{
		Unrestricted: opts.Unrestricted,
		Timeout:      opts.ScriptTimeout,
		HostSymbols:  HostSymbols(),
	})

	if opts.Unrestricted {
		r.log.Warn("WARNING. UNRESTRICTED MODE ON FOR registry AT %s. DO NOT RUN UNTRUSTED CODE.", opts.Dir)
	}

	if err := r.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load commands: %w", err)
	}
	return r, nil
}

// HostSymbols are the registry types unrestricted scripts can import from
// the SDK.
func HostSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Registry": reflect.ValueOf((*Registry)(nil)),
	}
}

func key(name string) string { return strings.ToLower(name) }

// IgnorePermission reports whether permission checks are skipped.
func (r *Registry) IgnorePermission() bool { return r.opts.IgnorePermission }

// Restricted reports whether scripts run sandboxed with proxied values.
func (r *Registry) Restricted() bool { return !r.opts.Unrestricted }

// Attenuate hides resource handles and proxies composite values for
// restricted scripts. The proxies stop working when lease is revoked.
func (r *Registry) Attenuate(v any, lease *capability.Lease) any {
	if !r.Restricted() {
		return v
	}
	if capability.IsResourceHandle(v) {
		return nil
	}
	return lease.Attenuate(v, r.hide, nil)
}

// hide is the exclusion predicate for proxied attributes.
func (r *Registry) hide(name string, v any) bool {
	if _, ok := v.(*capability.Proxy); ok {
		return false
	}
	return name == "Bind" || capability.IsResourceHandle(v)
}

// Dir returns the commands directory.
func (r *Registry) Dir() string { return r.store.Dir() }

// Delimiter returns the token separator.
func (r *Registry) Delimiter() string { return r.opts.Delimiter }

// Prefix returns the live command prefix.
func (r *Registry) Prefix() string { return r.prefix }

// SetPrefix changes the prefix in memory and in the manifest.
func (r *Registry) SetPrefix(prefix string) error {
	pd, err := r.store.Load()
	if err != nil {
		return err
	}
	pd.CommandPrefix = prefix
	if err := r.store.Save(pd); err != nil {
		return err
	}
	r.prefix = prefix
	r.data = pd.Commands
	r.log.Info("command prefix set to %q", prefix)
	return nil
}

// Command returns the registered command called name, ignoring case.
func (r *Registry) Command(name string) *command.Command {
	return r.commands[key(name)]
}

// Commands returns the registered commands sorted by name.
func (r *Registry) Commands() []*command.Command {
	out := make([]*command.Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].Name()) < key(out[j].Name()) })
	return out
}

// CommandData returns a copy of the manifest mirror.
func (r *Registry) CommandData() []manifest.CommandData {
	return (&manifest.ParserData{Commands: r.data}).Clone().Commands
}

// Available lists the names of enabled commands the given level may use.
func (r *Registry) Available(level int) []string {
	src := command.NewSource("", level, nil)
	var names []string
	for _, c := range r.Commands() {
		if !c.Disabled && src.HasPermission(c.Permission) {
			names = append(names, c.Name())
		}
	}
	return names
}
