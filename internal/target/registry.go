package target

import (
	"fmt"
	"sort"

	"github.com/dshills/runcrate/internal/manifest"
)

// Registry is a deduplicated, named snapshot of runnable targets.
// Build one with a Scan call; it is immutable afterwards.
type Registry struct {
	targets []Target
	byName  map[string]int
}

// ScanOptions configure a registry scan.
type ScanOptions struct {
	// ManifestPath overrides manifest discovery.
	ManifestPath string

	// Workspace widens the scan to all workspace members.
	Workspace bool

	// ScanDirs are extra directory trees to scan for manifests and
	// script files.
	ScanDirs []string

	// History maps target names to prior run counts.
	History map[string]int
}

// Scan builds a registry for the project rooted at root.
func Scan(root string, opts ScanOptions) (*Registry, error) {
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		located, err := manifest.Locate(root)
		if err != nil {
			return nil, err
		}
		manifestPath = located
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	var targets []Target
	if opts.Workspace || (m.IsWorkspace() && m.Package == nil) {
		ws, err := manifest.Load(manifest.LocateWorkspace(manifestPath))
		if err == nil && ws.IsWorkspace() {
			for _, memberPath := range ws.MemberManifests() {
				member, err := manifest.Load(memberPath)
				if err != nil {
					continue
				}
				targets = append(targets, ScanManifest(member)...)
			}
		}
		if m.Package != nil {
			targets = append(targets, ScanManifest(m)...)
		}
	} else {
		targets = ScanManifest(m)
	}

	for _, dir := range opts.ScanDirs {
		extra, err := ScanTree(dir)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
		targets = append(targets, extra...)
	}

	r := &Registry{byName: make(map[string]int)}
	for _, t := range targets {
		r.add(t)
	}
	r.applyHistory(opts.History)
	return r, nil
}

// NewRegistry builds a registry directly from targets, mainly for
// tests and plugin-only setups.
func NewRegistry(targets []Target) *Registry {
	r := &Registry{byName: make(map[string]int)}
	for _, t := range targets {
		r.add(t)
	}
	return r
}

// add inserts a target, disambiguating duplicate names across
// workspace members with a package-qualified name.
func (r *Registry) add(t Target) {
	name := t.Name
	if idx, exists := r.byName[name]; exists {
		if r.targets[idx].ManifestPath == t.ManifestPath {
			return
		}
		name = fmt.Sprintf("%s (%s)", t.Name, t.Dir())
		if _, still := r.byName[name]; still {
			return
		}
		t.Name = name
	}
	r.byName[name] = len(r.targets)
	r.targets = append(r.targets, t)
}

// MergePlugin merges plugin-contributed targets into the namespace.
// A collision with an existing (manifest) target resolves in the
// manifest target's favor: the plugin target is dropped.
func (r *Registry) MergePlugin(targets []Target) {
	for _, t := range targets {
		if _, exists := r.byName[t.Name]; exists {
			continue
		}
		t.Kind = KindPlugin
		r.byName[t.Name] = len(r.targets)
		r.targets = append(r.targets, t)
	}
}

func (r *Registry) applyHistory(history map[string]int) {
	if len(history) == 0 {
		return
	}
	for i := range r.targets {
		r.targets[i].RunCount = history[r.targets[i].Name]
	}
}

// Len returns the number of registered targets.
func (r *Registry) Len() int { return len(r.targets) }

// All returns every target sorted by name.
func (r *Registry) All() []Target {
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the target with the exact case-sensitive name.
func (r *Registry) Lookup(name string) (Target, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Target{}, false
	}
	return r.targets[idx], true
}

// Names returns all registered names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
