package lua

import (
	"fmt"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// Script is one loaded Lua plugin.
type Script struct {
	state *State
	tbl   *lua.LTable
	name  string
	path  string
}

// Load evaluates a plugin file and resolves its name. The script must
// return a table; "name" may be a string or a zero-argument function.
func Load(path string) (*Script, error) {
	state := NewState()

	v, err := state.EvalFile(path)
	if err != nil {
		state.Close()
		return nil, err
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		state.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotTable, path)
	}

	s := &Script{state: state, tbl: tbl, path: path}
	name, err := s.resolveName()
	if err != nil {
		state.Close()
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
	results, err := s.call("matches", dir)
	if err != nil || len(results) == 0 {
		return false
	}
	return lua.LVAsBool(results[0])
}

// CollectTargetsJSON calls collect_targets(dir) and returns its JSON
// string.
func (s *Script) CollectTargetsJSON(dir string) (string, error) {
	return s.callString("collect_targets", dir)
}

// BuildCommandJSON calls build_command(dir, target) and returns its
// JSON string.
func (s *Script) BuildCommandJSON(dir, targetName string) (string, error) {
	return s.callString("build_command", dir, targetName)
}

// HasEntry reports whether the plugin table defines a function field.
func (s *Script) HasEntry(field string) bool {
	return s.tbl.RawGetString(field).Type() == lua.LTFunction
}

// CallEntry invokes an in-process entry point and flattens its result
// to strings. The entry may return a single table or multiple values.
func (s *Script) CallEntry(field, dir, targetName string) ([]string, error) {
	results, err := s.call(field, dir, targetName)
	if err != nil {
		return nil, err
	}

	if len(results) == 1 {
		if tbl, ok := results[0].(*lua.LTable); ok {
			var lines []string
			tbl.ForEach(func(_, v lua.LValue) {
				lines = append(lines, stringify(v))
			})
			return lines, nil
		}
	}
	lines := make([]string, 0, len(results))
	for _, v := range results {
		lines = append(lines, stringify(v))
	}
	return lines, nil
}

func (s *Script) resolveName() (string, error) {
	v := s.tbl.RawGetString("name")
	switch v.Type() {
	case lua.LTString:
		return lua.LVAsString(v), nil
	case lua.LTFunction:
		results, err := s.state.CallValue(v)
		if err != nil {
			return "", err
		}
		if len(results) == 0 || results[0].Type() != lua.LTString {
			return "", fmt.Errorf("%w: name() returned no string", ErrMissingFunction)
		}
		return lua.LVAsString(results[0]), nil
	}
	return "", fmt.Errorf("%w: name", ErrMissingFunction)
}

func (s *Script) call(field string, args ...string) ([]lua.LValue, error) {
	fn := s.tbl.RawGetString(field)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s", ErrMissingFunction, field)
	}
	return s.state.CallValue(fn, args...)
}

func (s *Script) callString(field string, args ...string) (string, error) {
	results, err := s.call(field, args...)
	if err != nil {
		return "", err
	}
	if len(results) == 0 || results[0].Type() != lua.LTString {
		return "", fmt.Errorf("%w: %s returned no string", ErrMissingFunction, field)
	}
	return lua.LVAsString(results[0]), nil
}

// Close releases the script's runtime.
func (s *Script) Close() error { return s.state.Close() }

func stringify(v lua.LValue) string {
	switch v.Type() {
	case lua.LTNumber:
		n := float64(v.(lua.LNumber))
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	default:
		return v.String()
	}
}
