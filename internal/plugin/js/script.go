// Package js runs JavaScript plugin files on goja.
//
// A plugin file declares top-level functions matches(dir),
// collectTargets(dir), and buildCommand(dir, target), plus a "name"
// string or function. Optional in-process entry points are run(dir,
// target) or a function named after a target. JSON payloads are
// returned as strings and decoded by the host.
package js

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/dop251/goja"
)

// JS backend errors.
var (
	// ErrMissingFunction is returned when a required global is absent
	// or not callable.
	ErrMissingFunction = errors.New("js plugin function missing")

	// ErrNoName is returned when the script declares no usable name.
	ErrNoName = errors.New("js plugin declares no name")
)

// Script is one loaded JavaScript plugin.
//
// goja runtimes are not goroutine-safe; the mutex serializes calls.
type Script struct {
	mu   sync.Mutex
	vm   *goja.Runtime
	name string
	path string
}

// Load compiles and evaluates a plugin file.
func Load(path string) (*Script, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	prog, err := goja.Compile(path, string(code), true)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}

	vm := goja.New()
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", path, err)
	}

	s := &Script{vm: vm, path: path}
	name, err := s.resolveName()
	if err != nil {
		return nil, err
	}
	s.name = name
	return s, nil
}

// Name returns the plugin's self-reported name.
func (s *Script) Name() string { return s.name }

// Path returns the script file path.
func (s *Script) Path() string { return s.path }

// Matches calls matches(dir). Errors read as false.
func (s *Script) Matches(dir string) bool {
	v, err := s.call("matches", dir)
	if err != nil {
		return false
	}
	return v.ToBoolean()
}

// CollectTargetsJSON calls collectTargets(dir).
func (s *Script) CollectTargetsJSON(dir string) (string, error) {
	v, err := s.call("collectTargets", dir)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// BuildCommandJSON calls buildCommand(dir, target).
func (s *Script) BuildCommandJSON(dir, targetName string) (string, error) {
	v, err := s.call("buildCommand", dir, targetName)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// HasEntry reports whether a callable global with the given name
// exists.
func (s *Script) HasEntry(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := goja.AssertFunction(s.vm.Get(name))
	return ok
}

// CallEntry invokes an in-process entry point. The entry returns an
// array whose elements are flattened to strings.
func (s *Script) CallEntry(name, dir, targetName string) ([]string, error) {
	v, err := s.call(name, dir, targetName)
	if err != nil {
		return nil, err
	}

	exported := v.Export()
	items, ok := exported.([]any)
	if !ok {
		return nil, fmt.Errorf("entry %s returned %T, want array", name, exported)
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, flatten(item))
	}
	return lines, nil
}

// Close releases the runtime. goja has no explicit teardown; the
// method exists so all backends share one shape.
func (s *Script) Close() error { return nil }

func (s *Script) resolveName() (string, error) {
	s.mu.Lock()
	v := s.vm.Get("name")
	s.mu.Unlock()

	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", ErrNoName
	}
	if _, ok := goja.AssertFunction(v); ok {
		res, err := s.call("name")
		if err != nil {
			return "", err
		}
		return res.String(), nil
	}
	name := v.String()
	if name == "" {
		return "", ErrNoName
	}
	return name, nil
}

func (s *Script) call(name string, args ...string) (v goja.Value, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := goja.AssertFunction(s.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingFunction, name)
	}

	// goja surfaces uncatchable script failures as panics.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("js panic in %s: %v", name, r)
		}
	}()

	vals := make([]goja.Value, len(args))
	for i, arg := range args {
		vals[i] = s.vm.ToValue(arg)
	}
	return fn(goja.Undefined(), vals...)
}

func flatten(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
