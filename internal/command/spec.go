// Package command builds concrete process invocations from resolved
// targets. A Spec is immutable once built and rebuilt fresh for every
// invocation; only the orchestrator consumes it.
package command

import "strings"

// Spec is the fully-resolved program/arguments/directory triple handed
// to the process layer.
type Spec struct {
	// Prog is the program to execute.
	Prog string `json:"prog"`

	// Args are the ordered program arguments.
	Args []string `json:"args"`

	// Dir is the working directory; empty means inherit.
	Dir string `json:"cwd,omitempty"`

	// Env holds extra environment variables layered over the parent
	// environment.
	Env map[string]string `json:"env,omitempty"`
}

// String renders the spec for display.
func (s *Spec) String() string {
	if len(s.Args) == 0 {
		return s.Prog
	}
	return s.Prog + " " + strings.Join(s.Args, " ")
}

// Clone returns a deep copy. Specs handed to workers are cloned so a
// caller can never mutate an in-flight invocation.
func (s *Spec) Clone() *Spec {
	out := &Spec{Prog: s.Prog, Dir: s.Dir}
	out.Args = append([]string(nil), s.Args...)
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return out
}
