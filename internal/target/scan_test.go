package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/runcrate/internal/manifest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Cargo.toml"), `[package]
name = "proj"
version = "0.1.0"

[[example]]
name = "declared"
path = "examples/declared.rs"
required-features = ["extra"]
`)
	writeFile(t, filepath.Join(root, "src", "main.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "examples", "declared.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "examples", "simple.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "examples", "multi", "main.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "src", "bin", "helper.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "tests", "integration.rs"), "")
	return root
}

func kinds(targets []Target) map[string]Kind {
	out := map[string]Kind{}
	for _, t := range targets {
		out[t.Name] = t.Kind
	}
	return out
}

func TestScanManifest(t *testing.T) {
	root := setupProject(t)
	m, err := manifest.Load(filepath.Join(root, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}

	targets := ScanManifest(m)
	got := kinds(targets)

	want := map[string]Kind{
		"declared":    KindManifestExample,
		"simple":      KindExample,
		"multi":       KindExample,
		"helper":      KindBinary,
		"integration": KindTest,
		"proj":        KindBinary,
	}
	for name, kind := range want {
		if got[name] != kind {
			t.Errorf("target %q kind = %q, want %q", name, got[name], kind)
		}
	}

	for _, tgt := range targets {
		if tgt.Name == "declared" {
			if len(tgt.RequiredFeatures) != 1 || tgt.RequiredFeatures[0] != "extra" {
				t.Errorf("declared RequiredFeatures = %v, want [extra]", tgt.RequiredFeatures)
			}
		}
	}
}

func TestScanManifestFrameworkMarker(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Cargo.toml"), "[package]\nname = \"app\"\nversion = \"0.1.0\"\n")
	writeFile(t, filepath.Join(root, "src", "main.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "src-tauri", "tauri.conf.json"), "{}")

	m, err := manifest.Load(filepath.Join(root, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}
	targets := ScanManifest(m)

	var app *Target
	for i := range targets {
		if targets[i].Name == "app" {
			app = &targets[i]
		}
	}
	if app == nil {
		t.Fatal("app target not found")
	}
	if app.Kind != KindFrameworkApp || app.Framework != FrameworkTauri {
		t.Errorf("app = kind %q framework %q, want framework app / tauri", app.Kind, app.Framework)
	}
}

func TestScanTreeFindsScriptsAndManifests(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "Cargo.toml"), "[package]\nname = \"inner\"\nversion = \"0.1.0\"\n")
	writeFile(t, filepath.Join(root, "sub", "src", "main.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(root, "tool.rs"), "#!/usr/bin/env rust-script\nfn main() {}\n")
	writeFile(t, filepath.Join(root, "plain.rs"), "fn main() {}\n")

	targets, err := ScanTree(root)
	if err != nil {
		t.Fatalf("ScanTree() error = %v", err)
	}

	got := kinds(targets)
	if got["tool"] != KindScript {
		t.Errorf("tool kind = %q, want script", got["tool"])
	}
	if got["inner"] != KindBinary {
		t.Errorf("inner kind = %q, want bin", got["inner"])
	}
	if _, found := got["plain"]; found {
		t.Error("plain.rs without a directive should not be a target")
	}

	for _, tgt := range targets {
		if tgt.Name == "tool" && tgt.Interpreter != "rust-script" {
			t.Errorf("tool interpreter = %q, want rust-script", tgt.Interpreter)
		}
	}
}

func TestScanTreeSymlinkCycle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "tool.rs"), "#!/usr/bin/env scriptisto\nfn main() {}\n")
	// Create a cycle: a/loop -> root.
	if err := os.Symlink(root, filepath.Join(root, "a", "loop")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	targets, err := ScanTree(root)
	if err != nil {
		t.Fatalf("ScanTree() error = %v", err)
	}
	count := 0
	for _, tgt := range targets {
		if tgt.Name == "tool" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("tool discovered %d times, want 1 (cycle not broken)", count)
	}
}

func TestRegistryMergePluginPrecedence(t *testing.T) {
	r := NewRegistry(namedTargets("demo"))
	r.MergePlugin([]Target{
		{Name: "demo", PluginName: "ext"},
		{Name: "extra", PluginName: "ext"},
	})

	if got, _ := r.Lookup("demo"); got.Kind != KindExample {
		t.Errorf("manifest target overridden by plugin: kind = %q", got.Kind)
	}
	extra, ok := r.Lookup("extra")
	if !ok || extra.Kind != KindPlugin {
		t.Errorf("plugin target missing or wrong kind: %+v", extra)
	}
}

func TestRegistryDuplicateAcrossManifests(t *testing.T) {
	r := NewRegistry([]Target{
		{Name: "demo", Kind: KindExample, ManifestPath: "/a/Cargo.toml"},
		{Name: "demo", Kind: KindExample, ManifestPath: "/b/Cargo.toml"},
	})
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (second demo disambiguated)", r.Len())
	}
	if _, ok := r.Lookup("demo (/b)"); !ok {
		t.Errorf("disambiguated name missing; names = %v", r.Names())
	}
}
