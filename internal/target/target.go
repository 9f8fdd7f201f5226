// Package target provides target discovery and resolution for runcrate.
//
// A Target is one runnable unit found in a project tree: a cargo
// example, binary, test, or bench; a manifest-declared example with
// required features; a standalone script file with an interpreter
// directive; a framework-managed app (Tauri, Dioxus, Leptos); or a
// target contributed by a plugin.
package target

import "path/filepath"

// Kind identifies how a target is run.
type Kind string

const (
	// KindExample is a conventional examples/ entry.
	KindExample Kind = "example"
	// KindBinary is a [[bin]] or src/bin entry.
	KindBinary Kind = "bin"
	// KindTest is a [[test]] or tests/ entry.
	KindTest Kind = "test"
	// KindBench is a [[bench]] or benches/ entry.
	KindBench Kind = "bench"
	// KindManifestExample is an example declared explicitly in the
	// manifest, typically carrying required-features.
	KindManifestExample Kind = "manifest-example"
	// KindScript is a standalone file with a recognized interpreter
	// directive on its first line.
	KindScript Kind = "script"
	// KindFrameworkApp is a framework-managed app routed to a
	// framework-specific runner.
	KindFrameworkApp Kind = "framework"
	// KindPlugin is a target contributed by a plugin provider.
	KindPlugin Kind = "plugin"
)

// Framework identifies the runner for a KindFrameworkApp target.
type Framework string

const (
	// FrameworkNone means no framework applies.
	FrameworkNone Framework = ""
	// FrameworkTauri uses the cargo tauri runner.
	FrameworkTauri Framework = "tauri"
	// FrameworkDioxus uses the dx runner.
	FrameworkDioxus Framework = "dioxus"
	// FrameworkLeptos uses the trunk runner.
	FrameworkLeptos Framework = "leptos"
)

// Target is one runnable unit discovered in a project.
// Targets are created during a scan pass and immutable thereafter.
type Target struct {
	// Name is unique within one registry snapshot.
	Name string `json:"name"`

	// Kind determines command-builder dispatch.
	Kind Kind `json:"kind"`

	// ManifestPath is the Cargo.toml that owns this target, or the
	// script path itself for KindScript.
	ManifestPath string `json:"manifestPath"`

	// SourcePath is the file the target was discovered from, when known.
	SourcePath string `json:"sourcePath,omitempty"`

	// RequiredFeatures are cargo features the target cannot build
	// without, from the manifest's required-features array.
	RequiredFeatures []string `json:"requiredFeatures,omitempty"`

	// Framework selects the framework runner for KindFrameworkApp.
	Framework Framework `json:"framework,omitempty"`

	// Interpreter is the detected script interpreter for KindScript.
	Interpreter string `json:"interpreter,omitempty"`

	// PluginName names the contributing provider for KindPlugin.
	PluginName string `json:"pluginName,omitempty"`

	// Metadata is opaque plugin-supplied data for KindPlugin.
	Metadata string `json:"metadata,omitempty"`

	// RunCount is how many times this target has been run, from the
	// run history file.
	RunCount int `json:"runCount,omitempty"`
}

// Dir returns the directory the target's manifest lives in.
func (t Target) Dir() string {
	return filepath.Dir(t.ManifestPath)
}

// Runnable reports whether the run subcommand applies to the target.
// Tests and benches run through their own subcommands.
func (t Target) Runnable() bool {
	return t.Kind != KindTest && t.Kind != KindBench
}
