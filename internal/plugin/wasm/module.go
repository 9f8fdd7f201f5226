// Package wasm runs WebAssembly plugin modules on wazero.
//
// A plugin module is a WASI command: each invocation instantiates it
// with argv [op, args...] and reads its answer from stdout. The ops
// are name, matches, collect_targets, build_command, and run;
// matches answers "true" or "false", the rest answer JSON.
package wasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// Ops understood by plugin modules.
const (
	OpName           = "name"
	OpMatches        = "matches"
	OpCollectTargets = "collect_targets"
	OpBuildCommand   = "build_command"
	OpRun            = "run"
)

// ErrModuleFailed is returned when a module exits nonzero for a
// query op.
var ErrModuleFailed = errors.New("wasm plugin exited nonzero")

// Module is one compiled plugin. Compilation happens once at load;
// each Invoke instantiates a fresh, isolated instance.
type Module struct {
	mu       sync.Mutex
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	name     string
	path     string
}

// Load compiles a plugin module and queries its name.
func Load(ctx context.Context, path string) (*Module, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	runtime := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}

	m := &Module{runtime: runtime, compiled: compiled, path: path}
	out, _, err := m.invoke(ctx, OpName)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}
	m.name = strings.TrimSpace(out)
	if m.name == "" {
		runtime.Close(ctx)
		return nil, fmt.Errorf("module %s reported no name", path)
	}
	return m, nil
}

// Name returns the module's self-reported name.
func (m *Module) Name() string { return m.name }

// Path returns the module file path.
func (m *Module) Path() string { return m.path }

// Matches invokes the matches op. Errors read as false.
func (m *Module) Matches(ctx context.Context, dir string) bool {
	out, code, err := m.invoke(ctx, OpMatches, dir)
	if err != nil || code != 0 {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

// CollectTargetsJSON invokes the collect_targets op.
func (m *Module) CollectTargetsJSON(ctx context.Context, dir string) (string, error) {
	return m.query(ctx, OpCollectTargets, dir)
}

// BuildCommandJSON invokes the build_command op.
func (m *Module) BuildCommandJSON(ctx context.Context, dir, targetName string) (string, error) {
	return m.query(ctx, OpBuildCommand, dir, targetName)
}

// Run invokes the run op. The module's stdout is its output; its own
// exit code is the first run-result element, so the JSON array on
// stdout is returned as-is for the host to decode.
func (m *Module) Run(ctx context.Context, dir, targetName string) (string, error) {
	out, _, err := m.invoke(ctx, OpRun, dir, targetName)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Close releases the runtime and all compiled code.
func (m *Module) Close() error {
	return m.runtime.Close(context.Background())
}

func (m *Module) query(ctx context.Context, op string, args ...string) (string, error) {
	out, code, err := m.invoke(ctx, op, args...)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("%w: op %s code %d", ErrModuleFailed, op, code)
	}
	return out, nil
}

// invoke instantiates the module once with argv [op, args...] and
// captures stdout. proc_exit surfaces as sys.ExitError, including for
// code zero.
func (m *Module) invoke(ctx context.Context, op string, args ...string) (string, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stdout bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{op}, args...)...).
		WithStdout(&stdout).
		WithStderr(io.Discard)

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if mod != nil {
		mod.Close(ctx)
	}

	var exitCode uint32
	if err != nil {
		exitErr := &sys.ExitError{}
		if !errors.As(err, &exitErr) {
			return "", 0, fmt.Errorf("invoke %s op %s: %w", m.path, op, err)
		}
		exitCode = exitErr.ExitCode()
	}
	return stdout.String(), exitCode, nil
}
