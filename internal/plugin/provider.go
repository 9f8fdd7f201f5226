package plugin

import (
	"github.com/dshills/runcrate/internal/command"
	"github.com/dshills/runcrate/internal/target"
)

// Provider is the contract every loaded plugin satisfies.
type Provider interface {
	// Name is the provider's self-reported name.
	Name() string

	// Matches reports whether the provider wants to contribute
	// targets for the given directory.
	Matches(dir string) bool

	// CollectTargets returns the provider's targets for a directory.
	CollectTargets(dir string) ([]target.Target, error)

	// BuildCommand returns the external command that runs a target.
	BuildCommand(dir string, t *target.Target) (*command.Spec, error)

	// Close releases the provider's runtime.
	Close() error
}

// RunOutcome is the result of an in-process plugin run.
type RunOutcome struct {
	// ExitCode is the code the plugin reported.
	ExitCode int

	// Lines are the captured output lines.
	Lines []string
}

// Runner is implemented by providers that can run a target in-process
// instead of handing back a command. Dispatch order for a run:
//
//  1. a per-target entry point named after the target, if the
//     provider defines one
//  2. the provider's generic run entry point
//  3. external spawn of the BuildCommand spec
//
// A Run error falls through to the next stage rather than failing
// the target.
type Runner interface {
	// HasRun reports whether an in-process entry point exists for
	// the target.
	HasRun(t *target.Target) bool

	// Run executes the target in-process.
	Run(dir string, t *target.Target) (RunOutcome, error)
}
