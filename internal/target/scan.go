package target

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/runcrate/internal/manifest"
)

// Framework marker files, checked against the manifest directory.
const (
	tauriMarker  = "tauri.conf.json"
	dioxusMarker = "Dioxus.toml"
	trunkMarker  = "Trunk.toml"
)

// Script interpreter directives recognized on the first line of a
// standalone file.
var scriptInterpreters = []string{"rust-script", "scriptisto"}

// maxScanDepth bounds directory descent during tree scans.
const maxScanDepth = 12

// ScanManifest enumerates the targets one manifest contributes:
// declared sections first, then convention-based files that were not
// declared, then the framework app when a marker file is present.
func ScanManifest(m *manifest.Manifest) []Target {
	var targets []Target
	dir := m.Dir()
	seen := map[string]bool{}

	add := func(t Target) {
		if t.Name == "" || seen[t.Name] {
			return
		}
		seen[t.Name] = true
		targets = append(targets, t)
	}

	for _, d := range m.Example {
		add(Target{
			Name:             d.Name,
			Kind:             KindManifestExample,
			ManifestPath:     m.Path,
			SourcePath:       filepath.Join(dir, d.Path),
			RequiredFeatures: d.RequiredFeatures,
		})
	}
	for _, d := range m.Bin {
		add(Target{
			Name:             d.Name,
			Kind:             KindBinary,
			ManifestPath:     m.Path,
			SourcePath:       filepath.Join(dir, d.Path),
			RequiredFeatures: d.RequiredFeatures,
		})
	}
	for _, d := range m.Test {
		add(Target{Name: d.Name, Kind: KindTest, ManifestPath: m.Path,
			RequiredFeatures: d.RequiredFeatures})
	}
	for _, d := range m.Bench {
		add(Target{Name: d.Name, Kind: KindBench, ManifestPath: m.Path,
			RequiredFeatures: d.RequiredFeatures})
	}

	// Convention-based targets cargo auto-discovers.
	for _, t := range conventionTargets(m) {
		add(t)
	}

	if fw := detectFramework(dir); fw != FrameworkNone {
		add(Target{
			Name:         m.Name(),
			Kind:         KindFrameworkApp,
			ManifestPath: m.Path,
			Framework:    fw,
		})
	} else if m.Package != nil && fileExists(filepath.Join(dir, "src", "main.rs")) {
		add(Target{
			Name:         m.Name(),
			Kind:         KindBinary,
			ManifestPath: m.Path,
			SourcePath:   filepath.Join(dir, "src", "main.rs"),
		})
	}

	return targets
}

// conventionTargets lists examples/, src/bin/, tests/ and benches/
// entries by file layout.
func conventionTargets(m *manifest.Manifest) []Target {
	dir := m.Dir()
	var out []Target

	appendDir := func(sub string, kind Kind) {
		base := filepath.Join(dir, sub)
		entries, err := os.ReadDir(base)
		if err != nil {
			return
		}
		for _, e := range entries {
			name := e.Name()
			switch {
			case !e.IsDir() && strings.HasSuffix(name, ".rs"):
				out = append(out, Target{
					Name:         strings.TrimSuffix(name, ".rs"),
					Kind:         kind,
					ManifestPath: m.Path,
					SourcePath:   filepath.Join(base, name),
				})
			case e.IsDir() && fileExists(filepath.Join(base, name, "main.rs")):
				out = append(out, Target{
					Name:         name,
					Kind:         kind,
					ManifestPath: m.Path,
					SourcePath:   filepath.Join(base, name, "main.rs"),
				})
			}
		}
	}

	appendDir("examples", KindExample)
	appendDir(filepath.Join("src", "bin"), KindBinary)
	appendDir("tests", KindTest)
	appendDir("benches", KindBench)
	return out
}

func detectFramework(dir string) Framework {
	switch {
	case fileExists(filepath.Join(dir, "src-tauri", tauriMarker)):
		return FrameworkTauri
	case fileExists(filepath.Join(dir, tauriMarker)):
		return FrameworkTauri
	case fileExists(filepath.Join(dir, dioxusMarker)):
		return FrameworkDioxus
	case fileExists(filepath.Join(dir, trunkMarker)):
		return FrameworkLeptos
	}
	return FrameworkNone
}

// ScanTree walks root iteratively looking for manifests and script
// files. Symlink cycles are broken with a visited-identity set keyed
// by resolved path; descent stops at maxScanDepth.
func ScanTree(root string) ([]Target, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	type frame struct {
		dir   string
		depth int
	}
	stack := []frame{{abs, 0}}
	visited := map[string]bool{}
	var targets []Target

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id, err := filepath.EvalSymlinks(f.dir)
		if err != nil {
			continue
		}
		if visited[id] {
			continue
		}
		visited[id] = true

		entries, err := os.ReadDir(f.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			path := filepath.Join(f.dir, name)
			switch {
			case e.IsDir():
				if name == "target" || name == ".git" || name == "node_modules" {
					continue
				}
				if f.depth < maxScanDepth {
					stack = append(stack, frame{path, f.depth + 1})
				}
			case name == manifest.FileName:
				m, err := manifest.Load(path)
				if err != nil {
					continue
				}
				targets = append(targets, ScanManifest(m)...)
			case strings.HasSuffix(name, ".rs"):
				if interp := scriptInterpreter(path); interp != "" {
					targets = append(targets, Target{
						Name:         strings.TrimSuffix(name, ".rs"),
						Kind:         KindScript,
						ManifestPath: path,
						SourcePath:   path,
						Interpreter:  interp,
					})
				}
			}
		}
	}
	return targets, nil
}

// scriptInterpreter returns the interpreter named by a recognized
// directive on the file's first line, or "".
func scriptInterpreter(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return ""
	}
	first := scanner.Text()
	if !strings.HasPrefix(first, "#!") && !strings.HasPrefix(first, "//!") {
		return ""
	}
	for _, interp := range scriptInterpreters {
		if strings.Contains(first, interp) {
			return interp
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
