package command

import (
	"errors"
	"fmt"

	"dyncmd/internal/node"
)

// PrefixPlaceholder is replaced by the live command prefix when a usage
// message is relayed to the caller.
const PrefixPlaceholder = "!#prefix#!"

// Dispatch errors. Every *Error unwraps to exactly one of these.
var (
	// ErrNotFound is returned when the input names no registered command.
	ErrNotFound = errors.New("command not found")

	// ErrDisabled is returned when the command, or an argument node on the
	// path, is disabled.
	ErrDisabled = errors.New("command disabled")

	// ErrNoPermission is returned when the caller's level is too low.
	ErrNoPermission = errors.New("insufficient permission")

	// ErrImproperUsage is raised by scripts to signal caller misuse.
	ErrImproperUsage = errors.New("improper usage")

	// ErrExecution is returned when a script fails for any other reason.
	ErrExecution = errors.New("command execution failed")
)

// Kind classifies an *Error.
type Kind int

const (
	KindExecution Kind = iota
	KindNotFound
	KindDisabled
	KindNoPermission
	KindImproperUsage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDisabled:
		return "disabled"
	case KindNoPermission:
		return "no_permission"
	case KindImproperUsage:
		return "improper_usage"
	default:
		return "execution"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindDisabled:
		return ErrDisabled
	case KindNoPermission:
		return ErrNoPermission
	case KindImproperUsage:
		return ErrImproperUsage
	default:
		return ErrExecution
	}
}

// Error is a classified dispatch failure.
type Error struct {
	Kind Kind
	// Name is the command (or unresolved token) the error is about.
	Name string
	// Node is the node that triggered the failure, when one exists.
	Node    *node.Node
	Context *Context
	// Cause is the script's own error for KindExecution.
	Cause error
	// Required and Held are the permission levels for KindNoPermission.
	Required int
	Held     int

	msg string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("'%s' is not a registered command.", e.Name)
	case KindDisabled:
		return fmt.Sprintf("'%s' is disabled, enable to execute.", e.Name)
	case KindNoPermission:
		return fmt.Sprintf("'%s' did not have the required permissions (%d/%d) to use the '%s' command.",
			e.sourceName(), e.Held, e.Required, e.Name)
	case KindImproperUsage:
		if e.msg != "" {
			return e.msg
		}
		return DefaultUsageMessage(e.Name)
	default:
		return fmt.Sprintf("'%s' failed executing the '%s' command.", e.sourceName(), e.Name)
	}
}

// Message returns the text a script attached to a usage error, or the
// default usage hint when it attached none.
func (e *Error) Message() string { return e.Error() }

func (e *Error) sourceName() string {
	if e.Context == nil {
		return ""
	}
	return e.Context.Source().DisplayName
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// DefaultUsageMessage is the usage hint shown when a script signals misuse
// without a message of its own.
func DefaultUsageMessage(name string) string {
	return fmt.Sprintf("Incorrect usage of '%s'. To view usage information, use '%shelp %s'.",
		name, PrefixPlaceholder, name)
}

// ImproperUsage builds the error a script returns to signal misuse. An empty
// msg falls back to DefaultUsageMessage once the command is known.
func ImproperUsage(msg string) error {
	return &Error{Kind: KindImproperUsage, msg: msg}
}

// NotFound builds the error for an unresolved command token.
func NotFound(name string, ctx *Context) *Error {
	return &Error{Kind: KindNotFound, Name: name, Context: ctx}
}

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsUsage reports whether err is a script-raised usage error.
func IsUsage(err error) bool {
	ce, ok := AsError(err)
	return ok && ce.Kind == KindImproperUsage
}
