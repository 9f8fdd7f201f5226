package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `[package]
name = "sample"
version = "0.1.0"

[[bin]]
name = "tool"
path = "src/bin/tool.rs"

[[example]]
name = "demo"
required-features = ["gui", "audio"]

[features]
gui = []
audio = []
`

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, t.TempDir(), sampleManifest)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Name() != "sample" {
		t.Errorf("Name() = %q, want %q", m.Name(), "sample")
	}
	if len(m.Bin) != 1 || m.Bin[0].Name != "tool" {
		t.Errorf("Bin = %+v, want one entry named tool", m.Bin)
	}
	if m.IsWorkspace() {
		t.Error("IsWorkspace() = true for a plain package")
	}
}

func TestRequiredFeatures(t *testing.T) {
	path := writeManifest(t, t.TempDir(), sampleManifest)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	feats := m.RequiredFeatures("example", "demo")
	if len(feats) != 2 || feats[0] != "gui" || feats[1] != "audio" {
		t.Errorf("RequiredFeatures() = %v, want [gui audio]", feats)
	}
	if got := m.RequiredFeatures("bin", "tool"); got != nil {
		t.Errorf("RequiredFeatures(bin, tool) = %v, want nil", got)
	}
	if got := m.RequiredFeatures("example", "missing"); got != nil {
		t.Errorf("RequiredFeatures(example, missing) = %v, want nil", got)
	}
}

func TestRequiredFeaturesSearchesWorkspaceMembers(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[workspace]\nmembers = [\"member\"]\n")
	memberDir := filepath.Join(root, "member")
	if err := os.MkdirAll(memberDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, memberDir, sampleManifest)

	ws, err := Load(filepath.Join(root, FileName))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	feats := ws.RequiredFeatures("example", "demo")
	if len(feats) != 2 {
		t.Errorf("RequiredFeatures() via workspace = %v, want 2 entries", feats)
	}
}

func TestMemberManifestsGlob(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[workspace]\nmembers = [\"crates/*\"]\n")
	for _, name := range []string{"a", "b"} {
		dir := filepath.Join(root, "crates", name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		writeManifest(t, dir, "[package]\nname = \""+name+"\"\nversion = \"0.1.0\"\n")
	}
	// A directory without a manifest must be skipped.
	if err := os.MkdirAll(filepath.Join(root, "crates", "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	ws, err := Load(filepath.Join(root, FileName))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	members := ws.MemberManifests()
	if len(members) != 2 {
		t.Errorf("MemberManifests() = %v, want 2 entries", members)
	}
}

func TestLocate(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, sampleManifest)
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	found, err := Locate(nested)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if found != filepath.Join(root, FileName) {
		t.Errorf("Locate() = %q, want manifest at root", found)
	}
}

func TestLocateNotFound(t *testing.T) {
	_, err := Locate(t.TempDir())
	if err == nil {
		t.Fatal("Locate() in an empty tree should fail")
	}
}

func TestLocateWorkspace(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[workspace]\nmembers = [\"member\"]\n")
	memberDir := filepath.Join(root, "member")
	if err := os.MkdirAll(memberDir, 0o755); err != nil {
		t.Fatal(err)
	}
	memberManifest := writeManifest(t, memberDir, sampleManifest)

	got := LocateWorkspace(memberManifest)
	if got != filepath.Join(root, FileName) {
		t.Errorf("LocateWorkspace() = %q, want workspace root manifest", got)
	}
}
