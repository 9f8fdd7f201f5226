// Package lua runs Lua plugin scripts on gopher-lua.
//
// A plugin script evaluates to a table with string-or-function "name",
// functions matches(dir), collect_targets(dir), build_command(dir,
// target), and optional in-process entry points run(dir, target) or a
// function named after a target. The JSON payloads those functions
// return are decoded by the host, not here.
package lua

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// State wraps gopher-lua for plugin execution.
//
// gopher-lua's LState is not goroutine-safe; the mutex serializes all
// calls into the runtime. Only the base, table, string, and math
// libraries are opened, and the load family of globals is removed so
// scripts cannot pull code from disk.
type State struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// NewState creates a sandboxed Lua state.
func NewState() *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// io, os, debug, and package stay closed. The load family is
	// stripped from base so scripts cannot reopen them.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	return &State{L: L}
}

// EvalFile executes a plugin file and returns its result value.
func (s *State) EvalFile(path string) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	top := s.L.GetTop()
	if err := s.do(func() error { return s.L.DoFile(path) }); err != nil {
		return lua.LNil, err
	}
	if s.L.GetTop() <= top {
		return lua.LNil, nil
	}
	v := s.L.Get(-1)
	s.L.SetTop(top)
	return v, nil
}

// CallValue calls a Lua function value with string arguments and
// returns its results.
func (s *State) CallValue(fn lua.LValue, args ...string) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	if fn.Type() != lua.LTFunction {
		return nil, ErrMissingFunction
	}

	top := s.L.GetTop()
	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(lua.LString(arg))
	}

	if err := s.do(func() error {
		return s.L.PCall(len(args), lua.MultRet, nil)
	}); err != nil {
		s.L.SetTop(top)
		return nil, err
	}

	nret := s.L.GetTop() - top
	results := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.SetTop(top)
	return results, nil
}

// do runs fn with panic recovery. gopher-lua raises Go panics for
// some runtime errors and those must not escape into the host.
func (s *State) do(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Close releases the Lua runtime.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
