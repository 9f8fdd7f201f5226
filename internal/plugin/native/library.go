//go:build linux || darwin

// Package native loads shared-object plugins through the standard
// library plugin package.
//
// A shared object exports PluginName, Matches, CollectTargets, and
// BuildCommand, plus an optional Run for in-process execution. The
// JSON conventions match the script backends.
package native

import (
	"fmt"
	"plugin"
)

// Library is one opened shared-object plugin.
type Library struct {
	name string
	path string

	matches func(string) bool
	collect func(string) (string, error)
	build   func(string, string) (string, error)
	run     func(string, string) ([]string, error)
}

// Open loads a shared object and resolves its exported symbols.
func Open(path string) (*Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}

	lib := &Library{path: path}

	nameFn, err := symbol[func() string](p, "PluginName")
	if err != nil {
		return nil, err
	}
	lib.name = nameFn()
	if lib.name == "" {
		return nil, fmt.Errorf("library %s reported no name", path)
	}

	if lib.matches, err = symbol[func(string) bool](p, "Matches"); err != nil {
		return nil, err
	}
	if lib.collect, err = symbol[func(string) (string, error)](p, "CollectTargets"); err != nil {
		return nil, err
	}
	if lib.build, err = symbol[func(string, string) (string, error)](p, "BuildCommand"); err != nil {
		return nil, err
	}

	// Run is optional.
	lib.run, _ = symbol[func(string, string) ([]string, error)](p, "Run")

	return lib, nil
}

func symbol[T any](p *plugin.Plugin, name string) (T, error) {
	var zero T
	sym, err := p.Lookup(name)
	if err != nil {
		return zero, fmt.Errorf("symbol %s: %w", name, err)
	}
	fn, ok := sym.(T)
	if !ok {
		return zero, fmt.Errorf("symbol %s has type %T", name, sym)
	}
	return fn, nil
}

// Name returns the plugin's self-reported name.
func (l *Library) Name() string { return l.name }

// Path returns the shared-object path.
func (l *Library) Path() string { return l.path }

// Matches reports whether the plugin claims the directory.
func (l *Library) Matches(dir string) bool { return l.matches(dir) }

// CollectTargetsJSON returns the plugin's target list JSON.
func (l *Library) CollectTargetsJSON(dir string) (string, error) {
	return l.collect(dir)
}

// BuildCommandJSON returns the plugin's command spec JSON.
func (l *Library) BuildCommandJSON(dir, targetName string) (string, error) {
	return l.build(dir, targetName)
}

// HasRun reports whether the plugin exports an in-process Run.
func (l *Library) HasRun() bool { return l.run != nil }

// Run executes a target in-process.
func (l *Library) Run(dir, targetName string) ([]string, error) {
	if l.run == nil {
		return nil, fmt.Errorf("library %s exports no Run", l.path)
	}
	return l.run(dir, targetName)
}

// Close is a no-op: the runtime never unloads shared objects.
func (l *Library) Close() error { return nil }
