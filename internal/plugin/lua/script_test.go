package lua

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.lua")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const basicScript = `
return {
  name = "hello-lua",
  matches = function(dir)
    return string.find(dir, "proj") ~= nil
  end,
  collect_targets = function(dir)
    return '[{"name":"greet","metadata":"' .. dir .. '"}]'
  end,
  build_command = function(dir, target)
    return '{"prog":"echo","args":["hi","' .. target .. '"],"cwd":"' .. dir .. '"}'
  end,
  run = function(dir, target)
    return {0, "ran " .. target}
  end,
}
`

func TestLoadBasicScript(t *testing.T) {
	s, err := Load(writeScript(t, basicScript))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer s.Close()

	if s.Name() != "hello-lua" {
		t.Errorf("Name() = %q, want hello-lua", s.Name())
	}
	if !s.Matches("/proj/demo") {
		t.Error("Matches(/proj/demo) = false, want true")
	}
	if s.Matches("/elsewhere") {
		t.Error("Matches(/elsewhere) = true, want false")
	}

	json, err := s.CollectTargetsJSON("/proj/demo")
	if err != nil {
		t.Fatalf("CollectTargetsJSON() error = %v", err)
	}
	if json != `[{"name":"greet","metadata":"/proj/demo"}]` {
		t.Errorf("CollectTargetsJSON() = %s", json)
	}

	json, err = s.BuildCommandJSON("/proj/demo", "greet")
	if err != nil {
		t.Fatalf("BuildCommandJSON() error = %v", err)
	}
	if json != `{"prog":"echo","args":["hi","greet"],"cwd":"/proj/demo"}` {
		t.Errorf("BuildCommandJSON() = %s", json)
	}
}

func TestScriptNameFunction(t *testing.T) {
	s, err := Load(writeScript(t, `
return {
  name = function() return "computed" end,
  matches = function(dir) return true end,
}
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer s.Close()
	if s.Name() != "computed" {
		t.Errorf("Name() = %q, want computed", s.Name())
	}
}

func TestScriptRunEntry(t *testing.T) {
	s, err := Load(writeScript(t, basicScript))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if !s.HasEntry("run") {
		t.Fatal("HasEntry(run) = false")
	}
	if s.HasEntry("greet") {
		t.Error("HasEntry(greet) = true for undefined entry")
	}

	lines, err := s.CallEntry("run", "/proj", "greet")
	if err != nil {
		t.Fatalf("CallEntry() error = %v", err)
	}
	want := []string{"0", "ran greet"}
	if len(lines) != len(want) || lines[0] != want[0] || lines[1] != want[1] {
		t.Errorf("CallEntry() = %v, want %v", lines, want)
	}
}

func TestLoadRejectsNonTable(t *testing.T) {
	_, err := Load(writeScript(t, `return 42`))
	if !errors.Is(err, ErrNotTable) {
		t.Errorf("Load() error = %v, want ErrNotTable", err)
	}
}

func TestScriptMissingFunction(t *testing.T) {
	s, err := Load(writeScript(t, `return { name = "bare" }`))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.CollectTargetsJSON("/proj"); !errors.Is(err, ErrMissingFunction) {
		t.Errorf("CollectTargetsJSON() error = %v, want ErrMissingFunction", err)
	}
	if s.Matches("/proj") {
		t.Error("Matches() = true without matches function")
	}
}

func TestSandboxRemovesLoaders(t *testing.T) {
	s, err := Load(writeScript(t, `
return {
  name = "probe",
  matches = function(dir)
    return dofile ~= nil or loadfile ~= nil or load ~= nil
  end,
}
`))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Matches("/proj") {
		t.Error("load family still reachable from scripts")
	}
}

func TestScriptErrorDoesNotPanic(t *testing.T) {
	s, err := Load(writeScript(t, `
return {
  name = "boom",
  collect_targets = function(dir) error("exploded") end,
}
`))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.CollectTargetsJSON("/proj"); err == nil {
		t.Error("CollectTargetsJSON() error = nil, want script error")
	}
}
