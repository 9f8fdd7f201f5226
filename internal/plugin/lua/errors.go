package lua

import "errors"

// Lua backend errors.
var (
	// ErrStateClosed is returned when using a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNotTable is returned when a plugin script does not return a
	// table.
	ErrNotTable = errors.New("lua plugin did not return a table")

	// ErrMissingFunction is returned when a required table field is
	// absent or not a function.
	ErrMissingFunction = errors.New("lua plugin function missing")
)
