//go:build !linux && !darwin

package native

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned where the platform cannot load shared
// objects.
var ErrUnsupported = errors.New("native plugins are not supported on " + runtime.GOOS)

// Library is one opened shared-object plugin.
type Library struct{}

// Open always fails on this platform.
func Open(string) (*Library, error) { return nil, ErrUnsupported }

// Name returns the empty string.
func (l *Library) Name() string { return "" }

// Path returns the empty string.
func (l *Library) Path() string { return "" }

// Matches always reports false.
func (l *Library) Matches(string) bool { return false }

// CollectTargetsJSON always fails.
func (l *Library) CollectTargetsJSON(string) (string, error) { return "", ErrUnsupported }

// BuildCommandJSON always fails.
func (l *Library) BuildCommandJSON(string, string) (string, error) { return "", ErrUnsupported }

// HasRun always reports false.
func (l *Library) HasRun() bool { return false }

// Run always fails.
func (l *Library) Run(string, string) ([]string, error) { return nil, ErrUnsupported }

// Close is a no-op.
func (l *Library) Close() error { return nil }
