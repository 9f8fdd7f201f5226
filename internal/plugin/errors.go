package plugin

import "errors"

// Plugin system errors.
var (
	// ErrUnknownBackend is returned for files no backend claims.
	ErrUnknownBackend = errors.New("unknown plugin backend")

	// ErrNoName is returned when a plugin reports an empty name.
	ErrNoName = errors.New("plugin reported no name")

	// ErrNotRunnable is returned when a provider offers neither an
	// in-process entry point nor an external command.
	ErrNotRunnable = errors.New("plugin target is not runnable")

	// ErrBadWire is returned when a provider's JSON payload cannot be
	// decoded.
	ErrBadWire = errors.New("malformed plugin payload")
)
