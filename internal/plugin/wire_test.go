package plugin

import (
	"errors"
	"testing"

	"github.com/dshills/runcrate/internal/target"
)

func TestDecodeTargets(t *testing.T) {
	targets, err := DecodeTargets(`[
		{"name":"alpha","metadata":"/proj/a"},
		{"name":"beta"},
		{"metadata":"nameless entries are dropped"}
	]`)
	if err != nil {
		t.Fatalf("DecodeTargets() error = %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}
	if targets[0].Name != "alpha" || targets[0].Metadata != "/proj/a" {
		t.Errorf("first = %+v", targets[0])
	}
	if targets[0].Kind != target.KindPlugin {
		t.Errorf("Kind = %q, want plugin", targets[0].Kind)
	}
}

func TestDecodeTargetsRejectsNonArray(t *testing.T) {
	if _, err := DecodeTargets(`{"name":"x"}`); !errors.Is(err, ErrBadWire) {
		t.Errorf("DecodeTargets() error = %v, want ErrBadWire", err)
	}
}

func TestDecodeCommand(t *testing.T) {
	spec, err := DecodeCommand(`{"prog":"echo","args":["a","b"],"cwd":"/proj","env":{"K":"v"}}`)
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	if spec.Prog != "echo" || len(spec.Args) != 2 || spec.Dir != "/proj" {
		t.Errorf("spec = %+v", spec)
	}
	if spec.Env["K"] != "v" {
		t.Errorf("Env = %v", spec.Env)
	}
}

func TestDecodeCommandRequiresProg(t *testing.T) {
	if _, err := DecodeCommand(`{"args":["a"]}`); !errors.Is(err, ErrBadWire) {
		t.Errorf("DecodeCommand() error = %v, want ErrBadWire", err)
	}
}

func TestParseRunLines(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		wantCode int
		wantOut  int
		wantErr  bool
	}{
		{"plain code", []string{"0", "hello"}, 0, 1, false},
		{"nonzero", []string{"101"}, 101, 0, false},
		{"decorated code", []string{"ExitStatus(unix_wait_status(256))", "x"}, 256, 1, false},
		{"negative", []string{"-1"}, -1, 0, false},
		{"empty", nil, 0, 0, true},
		{"no digits", []string{"boom"}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := ParseRunLines(tt.lines)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRunLines() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if outcome.ExitCode != tt.wantCode || len(outcome.Lines) != tt.wantOut {
				t.Errorf("outcome = %+v, want code %d with %d lines",
					outcome, tt.wantCode, tt.wantOut)
			}
		})
	}
}

func TestDecodeRunResult(t *testing.T) {
	outcome, err := DecodeRunResult(`[0, "line one", "line two"]`)
	if err != nil {
		t.Fatalf("DecodeRunResult() error = %v", err)
	}
	if outcome.ExitCode != 0 || len(outcome.Lines) != 2 || outcome.Lines[1] != "line two" {
		t.Errorf("outcome = %+v", outcome)
	}
}
