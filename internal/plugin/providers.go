package plugin

import (
	"context"

	"github.com/dshills/runcrate/internal/command"
	"github.com/dshills/runcrate/internal/plugin/native"
	"github.com/dshills/runcrate/internal/plugin/wasm"
	"github.com/dshills/runcrate/internal/target"
)

// scriptBackend is the shape the Lua and JavaScript backends share.
type scriptBackend interface {
	Name() string
	Matches(dir string) bool
	CollectTargetsJSON(dir string) (string, error)
	BuildCommandJSON(dir, targetName string) (string, error)
	HasEntry(name string) bool
	CallEntry(name, dir, targetName string) ([]string, error)
	Close() error
}

// scriptProvider adapts a script backend to the Provider contract,
// decoding the JSON wire payloads.
type scriptProvider struct {
	desc   Descriptor
	script scriptBackend
}

func (p *scriptProvider) Name() string { return p.script.Name() }

func (p *scriptProvider) Matches(dir string) bool { return p.script.Matches(dir) }

func (p *scriptProvider) CollectTargets(dir string) ([]target.Target, error) {
	payload, err := p.script.CollectTargetsJSON(dir)
	if err != nil {
		return nil, err
	}
	targets, err := DecodeTargets(payload)
	if err != nil {
		return nil, err
	}
	stampTargets(targets, p.Name(), dir)
	return targets, nil
}

func (p *scriptProvider) BuildCommand(dir string, t *target.Target) (*command.Spec, error) {
	payload, err := p.script.BuildCommandJSON(dir, t.Name)
	if err != nil {
		return nil, err
	}
	spec, err := DecodeCommand(payload)
	if err != nil {
		return nil, err
	}
	if spec.Dir == "" {
		spec.Dir = dir
	}
	return spec, nil
}

func (p *scriptProvider) HasRun(t *target.Target) bool {
	return p.script.HasEntry(t.Name) || p.script.HasEntry("run")
}

func (p *scriptProvider) Run(dir string, t *target.Target) (RunOutcome, error) {
	entry := "run"
	if p.script.HasEntry(t.Name) {
		// A function named after the target overrides the generic
		// entry point.
		entry = t.Name
	}
	lines, err := p.script.CallEntry(entry, dir, t.Name)
	if err != nil {
		return RunOutcome{}, err
	}
	return ParseRunLines(lines)
}

func (p *scriptProvider) Close() error { return p.script.Close() }

// wasmProvider adapts a compiled WASI module.
type wasmProvider struct {
	desc Descriptor
	mod  *wasm.Module
}

func (p *wasmProvider) Name() string { return p.mod.Name() }

func (p *wasmProvider) Matches(dir string) bool {
	return p.mod.Matches(context.Background(), dir)
}

func (p *wasmProvider) CollectTargets(dir string) ([]target.Target, error) {
	payload, err := p.mod.CollectTargetsJSON(context.Background(), dir)
	if err != nil {
		return nil, err
	}
	targets, err := DecodeTargets(payload)
	if err != nil {
		return nil, err
	}
	stampTargets(targets, p.Name(), dir)
	return targets, nil
}

func (p *wasmProvider) BuildCommand(dir string, t *target.Target) (*command.Spec, error) {
	payload, err := p.mod.BuildCommandJSON(context.Background(), dir, t.Name)
	if err != nil {
		return nil, err
	}
	spec, err := DecodeCommand(payload)
	if err != nil {
		return nil, err
	}
	if spec.Dir == "" {
		spec.Dir = dir
	}
	return spec, nil
}

// HasRun is always true: a WASI command module can always service
// the run op.
func (p *wasmProvider) HasRun(*target.Target) bool { return true }

func (p *wasmProvider) Run(dir string, t *target.Target) (RunOutcome, error) {
	payload, err := p.mod.Run(context.Background(), dir, t.Name)
	if err != nil {
		return RunOutcome{}, err
	}
	return DecodeRunResult(payload)
}

func (p *wasmProvider) Close() error { return p.mod.Close() }

// nativeProvider adapts a shared-object library.
type nativeProvider struct {
	desc Descriptor
	lib  *native.Library
}

func (p *nativeProvider) Name() string { return p.lib.Name() }

func (p *nativeProvider) Matches(dir string) bool { return p.lib.Matches(dir) }

func (p *nativeProvider) CollectTargets(dir string) ([]target.Target, error) {
	payload, err := p.lib.CollectTargetsJSON(dir)
	if err != nil {
		return nil, err
	}
	targets, err := DecodeTargets(payload)
	if err != nil {
		return nil, err
	}
	stampTargets(targets, p.Name(), dir)
	return targets, nil
}

func (p *nativeProvider) BuildCommand(dir string, t *target.Target) (*command.Spec, error) {
	payload, err := p.lib.BuildCommandJSON(dir, t.Name)
	if err != nil {
		return nil, err
	}
	spec, err := DecodeCommand(payload)
	if err != nil {
		return nil, err
	}
	if spec.Dir == "" {
		spec.Dir = dir
	}
	return spec, nil
}

func (p *nativeProvider) HasRun(*target.Target) bool { return p.lib.HasRun() }

func (p *nativeProvider) Run(dir string, t *target.Target) (RunOutcome, error) {
	lines, err := p.lib.Run(dir, t.Name)
	if err != nil {
		return RunOutcome{}, err
	}
	return ParseRunLines(lines)
}

func (p *nativeProvider) Close() error { return p.lib.Close() }

func stampTargets(targets []target.Target, providerName, dir string) {
	for i := range targets {
		targets[i].PluginName = providerName
		if targets[i].SourcePath == "" {
			targets[i].SourcePath = dir
		}
	}
}
