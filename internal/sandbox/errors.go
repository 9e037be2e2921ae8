package sandbox

import (
	"errors"
	"fmt"
)

// Sandbox errors.
var (
	// ErrForbiddenImport is returned when a script imports a package outside
	// the allow list.
	ErrForbiddenImport = errors.New("forbidden import")

	// ErrForbiddenStatement is returned when a restricted script uses a
	// construct that could escape the invocation watchdog: go statements,
	// init functions or package-level initializers that run arbitrary code.
	ErrForbiddenStatement = errors.New("forbidden statement")

	// ErrNoEntryPoint is returned when a script does not define Command.
	ErrNoEntryPoint = errors.New("entry point not found")

	// ErrBadSignature is returned when Command has the wrong type.
	ErrBadSignature = errors.New("entry point has incorrect signature")

	// ErrTimeout is returned when a script outlives its deadline.
	ErrTimeout = errors.New("script execution timed out")
)

// CompileError reports why a script could not be turned into a command.
type CompileError struct {
	File string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile %s: %v", e.File, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
