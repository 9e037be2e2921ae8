package manifest

import "errors"

// Manifest errors.
var (
	// ErrMissing is returned when commands.json does not exist.
	ErrMissing = errors.New("manifest not found")

	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid manifest")

	// ErrMissingField is returned when a required key is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrDuplicateName is returned when siblings share a name (ignoring case).
	ErrDuplicateName = errors.New("duplicate command name")

	// ErrBadName is returned for empty names or names unusable as file names.
	ErrBadName = errors.New("invalid command name")

	// ErrChildFunction is returned when a child entry declares a function.
	ErrChildFunction = errors.New("child entries cannot declare a function")
)
