// Package manifest reads Cargo manifests and provides the scoped
// workspace patch used to work around cargo's workspace-membership
// misdetection.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// FileName is the manifest file name cargo looks for.
const FileName = "Cargo.toml"

// ErrNotFound is returned when no manifest exists in the searched
// directories.
var ErrNotFound = errors.New("no Cargo.toml found in this or any parent directory")

// TargetDecl is one [[bin]]/[[example]]/[[test]]/[[bench]] entry.
type TargetDecl struct {
	Name             string   `toml:"name"`
	Path             string   `toml:"path"`
	RequiredFeatures []string `toml:"required-features"`
}

// Package is the [package] table.
type Package struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Workspace is the [workspace] table.
type Workspace struct {
	Members []string `toml:"members"`
}

// Manifest is the subset of a Cargo.toml runcrate cares about.
type Manifest struct {
	Package   *Package     `toml:"package"`
	Workspace *Workspace   `toml:"workspace"`
	Bin       []TargetDecl `toml:"bin"`
	Example   []TargetDecl `toml:"example"`
	Test      []TargetDecl `toml:"test"`
	Bench     []TargetDecl `toml:"bench"`
	Features  map[string]any `toml:"features"`

	// Path is where the manifest was loaded from.
	Path string `toml:"-"`
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	m.Path = path
	return &m, nil
}

// Name returns the package name, or the directory name when the
// manifest is a bare workspace root.
func (m *Manifest) Name() string {
	if m.Package != nil && m.Package.Name != "" {
		return m.Package.Name
	}
	return filepath.Base(filepath.Dir(m.Path))
}

// IsWorkspace reports whether the manifest declares a workspace.
func (m *Manifest) IsWorkspace() bool {
	return m.Workspace != nil
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.Path)
}

// RequiredFeatures returns the required-features list for the named
// target in the given section ("bin", "example", "test", "bench").
// Workspace members are searched when the target is not declared in
// this manifest.
func (m *Manifest) RequiredFeatures(section, name string) []string {
	var decls []TargetDecl
	switch section {
	case "bin":
		decls = m.Bin
	case "example":
		decls = m.Example
	case "test":
		decls = m.Test
	case "bench":
		decls = m.Bench
	default:
		return nil
	}
	for _, d := range decls {
		if d.Name == name && len(d.RequiredFeatures) > 0 {
			return d.RequiredFeatures
		}
	}
	if m.IsWorkspace() {
		for _, member := range m.MemberManifests() {
			sub, err := Load(member)
			if err != nil {
				continue
			}
			if feats := sub.RequiredFeatures(section, name); len(feats) > 0 {
				return feats
			}
		}
	}
	return nil
}

// MemberManifests resolves the workspace members to manifest paths,
// dropping members whose Cargo.toml does not exist. Trailing glob
// segments like "crates/*" are expanded one level.
func (m *Manifest) MemberManifests() []string {
	if m.Workspace == nil {
		return nil
	}
	root := m.Dir()
	var out []string
	for _, member := range m.Workspace.Members {
		if strings.HasSuffix(member, "/*") {
			base := filepath.Join(root, strings.TrimSuffix(member, "/*"))
			entries, err := os.ReadDir(base)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				p := filepath.Join(base, e.Name(), FileName)
				if fileExists(p) {
					out = append(out, p)
				}
			}
			continue
		}
		p := filepath.Join(root, member, FileName)
		if fileExists(p) {
			out = append(out, p)
		}
	}
	return out
}

// Locate searches upward from start for a Cargo.toml and returns its
// path. It mirrors cargo's own manifest discovery.
func Locate(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if fileExists(candidate) {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// LocateWorkspace walks upward from the manifest at path looking for
// an enclosing manifest with a [workspace] table. When none exists the
// original path is returned.
func LocateWorkspace(path string) string {
	dir := filepath.Dir(filepath.Dir(path))
	for {
		candidate := filepath.Join(dir, FileName)
		if fileExists(candidate) {
			if m, err := Load(candidate); err == nil && m.IsWorkspace() {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return path
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
