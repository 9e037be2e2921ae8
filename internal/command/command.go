// Package command implements the command record: a node tree bound to an
// executable, plus the permission-checked execute protocol and the error
// taxonomy shared with the dispatcher.
package command

import (
	"context"
	"errors"
	"fmt"

	"dyncmd/internal/capability"
	"dyncmd/internal/manifest"
	"dyncmd/internal/node"
)

// Names of the parameters injected into every invocation.
const (
	KwargSelf    = "self"
	KwargParser  = "parser"
	KwargContext = "context"
)

// Func is a bound executable. args are the tokens after the command name;
// kwargs carries the injected parameters and any host extras.
type Func func(ctx context.Context, args []string, kwargs map[string]any) (string, error)

// Dummy is the executable of a command with nothing loaded.
func Dummy(context.Context, []string, map[string]any) (string, error) { return "", nil }

// Host is the registry side of a command: trust settings and the
// attenuation applied to injected values. Proxies made by Attenuate must be
// bound to lease.
type Host interface {
	IgnorePermission() bool
	Restricted() bool
	Attenuate(v any, lease *capability.Lease) any
}

// Command is a top-level node with an optional bound executable.
type Command struct {
	*node.Node

	host  Host
	data  manifest.CommandData
	fn    Func
	bound bool
}

// New builds an unbound command and its argument nodes from data.
func New(data manifest.CommandData, host Host) *Command {
	return &Command{
		Node: node.New(data.NodeConfig(), nil),
		host: host,
		data: data,
		fn:   Dummy,
	}
}

// Bind attaches the executable, moving the command to the bound state.
func (c *Command) Bind(fn Func) {
	if fn == nil {
		return
	}
	c.fn = fn
	c.bound = true
}

// Bound reports whether an executable has been attached.
func (c *Command) Bound() bool { return c.bound }

// Data returns the manifest record the command was built from.
func (c *Command) Data() manifest.CommandData { return c.data }

// Execute runs the command for the caller found in kwargs["context"].
//
// Disabled nodes are rejected before permission is considered. The node
// reached by walking args supplies the required permission, so an argument
// node may be stricter or more lenient than the command itself.
func (c *Command) Execute(ctx context.Context, args []string, kwargs map[string]any) (string, error) {
	cc, _ := kwargs[KwargContext].(*Context)
	if cc == nil {
		cc = NewContext("", nil)
	}

	for _, n := range c.Path(args) {
		if n.Disabled {
			return "", &Error{Kind: KindDisabled, Name: c.Name(), Node: n, Context: cc}
		}
	}

	effective := c.Walk(args)
	src := cc.Source()
	if !src.HasPermission(effective.Permission) && !c.ignorePermission() {
		return "", &Error{
			Kind:     KindNoPermission,
			Name:     effective.Name(),
			Node:     effective,
			Context:  cc,
			Required: effective.Permission,
			Held:     src.Permission,
		}
	}

	call := make(map[string]any, len(kwargs)+2)
	for k, v := range kwargs {
		call[k] = v
	}
	call[KwargContext] = cc
	call[KwargSelf] = c
	if c.host != nil {
		call[KwargParser] = c.host
	}
	if c.host != nil && c.host.Restricted() {
		// Everything the script was handed goes dead when the call ends,
		// including after a timeout that leaves the script running.
		lease := capability.NewLease()
		defer lease.Revoke()
		for k, v := range call {
			call[k] = c.host.Attenuate(v, lease)
		}
	}

	out, err := c.invoke(ctx, args, call)
	if err != nil {
		var usage *Error
		if errors.As(err, &usage) && usage.Kind == KindImproperUsage && usage.Name == "" {
			usage.Name = c.Name()
			usage.Node = c.Node
			usage.Context = cc
		}
		return "", &Error{Kind: KindExecution, Name: c.Name(), Node: c.Node, Context: cc, Cause: err}
	}
	return out, nil
}

func (c *Command) invoke(ctx context.Context, args []string, kwargs map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	return c.fn(ctx, args, kwargs)
}

func (c *Command) ignorePermission() bool {
	return c.host != nil && c.host.IgnorePermission()
}
