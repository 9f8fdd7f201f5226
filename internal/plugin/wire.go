package plugin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/runcrate/internal/command"
	"github.com/dshills/runcrate/internal/target"
)

// The wire protocol between host and script providers is JSON.
// Scripts are loosely typed, so decoding goes through gjson and
// tolerates numbers-as-strings and missing optional fields rather
// than failing the whole plugin.

// DecodeTargets parses a provider's target list: a JSON array of
// objects with "name" and optional "metadata".
func DecodeTargets(payload string) ([]target.Target, error) {
	root := gjson.Parse(payload)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: target list is not an array", ErrBadWire)
	}

	var targets []target.Target
	for _, item := range root.Array() {
		name := item.Get("name").String()
		if name == "" {
			continue // nameless entries are dropped, not fatal
		}
		targets = append(targets, target.Target{
			Name:     name,
			Kind:     target.KindPlugin,
			Metadata: item.Get("metadata").String(),
		})
	}
	return targets, nil
}

// DecodeCommand parses a provider's command spec: a JSON object with
// "prog", "args", optional "cwd", and optional "env".
func DecodeCommand(payload string) (*command.Spec, error) {
	root := gjson.Parse(payload)
	prog := root.Get("prog").String()
	if prog == "" {
		return nil, fmt.Errorf("%w: command spec has no prog", ErrBadWire)
	}

	spec := &command.Spec{
		Prog: prog,
		Dir:  root.Get("cwd").String(),
	}
	for _, arg := range root.Get("args").Array() {
		spec.Args = append(spec.Args, arg.String())
	}
	if env := root.Get("env"); env.IsObject() {
		spec.Env = make(map[string]string)
		env.ForEach(func(k, v gjson.Result) bool {
			spec.Env[k.String()] = v.String()
			return true
		})
	}
	return spec, nil
}

// ParseRunLines interprets an in-process run result: the first element
// is the exit code, the rest are output lines. Scripts format the code
// loosely ("0", 0, even "ExitStatus(0)"), so digits are extracted
// rather than strictly parsed.
func ParseRunLines(lines []string) (RunOutcome, error) {
	if len(lines) == 0 {
		return RunOutcome{}, fmt.Errorf("%w: empty run result", ErrBadWire)
	}
	code, err := looseExitCode(lines[0])
	if err != nil {
		return RunOutcome{}, err
	}
	return RunOutcome{
		ExitCode: code,
		Lines:    append([]string(nil), lines[1:]...),
	}, nil
}

// DecodeRunResult parses a JSON-encoded run result array.
func DecodeRunResult(payload string) (RunOutcome, error) {
	root := gjson.Parse(payload)
	if !root.IsArray() {
		return RunOutcome{}, fmt.Errorf("%w: run result is not an array", ErrBadWire)
	}
	var lines []string
	for _, item := range root.Array() {
		lines = append(lines, item.String())
	}
	return ParseRunLines(lines)
}

func looseExitCode(s string) (int, error) {
	s = strings.TrimSpace(s)
	if code, err := strconv.Atoi(s); err == nil {
		return code, nil
	}

	// Salvage the first signed integer run embedded in decorated
	// forms like "ExitStatus(unix_wait_status(256))".
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			start = i
			if i > 0 && s[i-1] == '-' {
				start = i - 1
			}
			break
		}
	}
	if start < 0 {
		return 0, fmt.Errorf("%w: exit code %q", ErrBadWire, s)
	}
	end := start
	if s[end] == '-' {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return strconv.Atoi(s[start:end])
}
