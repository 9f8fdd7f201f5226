package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dshills/runcrate/internal/plugin/js"
	"github.com/dshills/runcrate/internal/plugin/lua"
	"github.com/dshills/runcrate/internal/plugin/native"
	"github.com/dshills/runcrate/internal/plugin/wasm"
)

// TierDir is one plugin search directory.
type TierDir struct {
	Tier Tier
	Path string
}

// DefaultDirs returns the search directories in precedence order:
// the development tree's plugins/ directory, ~/.runcrate/plugins,
// then ./.runcrate/plugins under the working directory. Missing
// directories are skipped at discovery time, not here.
func DefaultDirs(devRoot, workDir string) []TierDir {
	var dirs []TierDir
	if devRoot != "" {
		dirs = append(dirs, TierDir{TierDev, filepath.Join(devRoot, "plugins")})
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, TierDir{TierGlobal, filepath.Join(home, ".runcrate", "plugins")})
	}
	if workDir != "" {
		dirs = append(dirs, TierDir{TierProject, filepath.Join(workDir, ".runcrate", "plugins")})
	}
	return dirs
}

// Loader discovers plugin files and loads them into providers.
type Loader struct {
	dirs     []TierDir
	disabled map[string]bool
	logger   *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithDirs overrides the search directories.
func WithDirs(dirs ...TierDir) LoaderOption {
	return func(l *Loader) {
		l.dirs = dirs
	}
}

// WithDisabled names plugins to skip even when discovered. Names match
// the file stem, before the provider reports its own name.
func WithDisabled(names ...string) LoaderOption {
	return func(l *Loader) {
		for _, name := range names {
			l.disabled[name] = true
		}
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader over the default search directories.
func NewLoader(opts ...LoaderOption) *Loader {
	wd, _ := os.Getwd()
	l := &Loader{
		dirs:     DefaultDirs("", wd),
		disabled: make(map[string]bool),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discover lists plugin files across all tiers. A file in an earlier
// tier shadows same-named files in later tiers; within a tier,
// entries sort by name.
func (l *Loader) Discover() []Descriptor {
	seen := make(map[string]bool)
	var found []Descriptor

	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir.Path)
		if err != nil {
			continue // absent tiers are normal
		}

		var tierDescs []Descriptor
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			desc, err := Describe(filepath.Join(dir.Path, entry.Name()), dir.Tier)
			if err != nil {
				continue // unrecognized extensions are not plugins
			}
			tierDescs = append(tierDescs, desc)
		}
		sort.Slice(tierDescs, func(i, j int) bool {
			return tierDescs[i].Name < tierDescs[j].Name
		})

		for _, desc := range tierDescs {
			if seen[desc.Name] {
				l.logger.Debug("plugin shadowed by earlier tier",
					"name", desc.Name, "tier", desc.Tier.String(), "path", desc.Path)
				continue
			}
			seen[desc.Name] = true
			found = append(found, desc)
		}
	}
	return found
}

// Load discovers and loads every plugin. Load failures are logged
// and skipped; one broken plugin never blocks the rest.
func (l *Loader) Load(ctx context.Context) *Host {
	host := NewHost(l.logger)
	for _, desc := range l.Discover() {
		if l.disabled[desc.Name] {
			l.logger.Debug("plugin disabled by configuration", "name", desc.Name)
			continue
		}
		provider, err := l.load(ctx, desc)
		if err != nil {
			l.logger.Warn("plugin failed to load",
				"name", desc.Name, "backend", string(desc.Backend),
				"path", desc.Path, "error", err)
			continue
		}
		host.Add(provider)
	}
	return host
}

func (l *Loader) load(ctx context.Context, desc Descriptor) (Provider, error) {
	switch desc.Backend {
	case BackendLua:
		script, err := lua.Load(desc.Path)
		if err != nil {
			return nil, err
		}
		return &scriptProvider{desc: desc, script: script}, nil
	case BackendJS:
		script, err := js.Load(desc.Path)
		if err != nil {
			return nil, err
		}
		return &scriptProvider{desc: desc, script: script}, nil
	case BackendWASM:
		mod, err := wasm.Load(ctx, desc.Path)
		if err != nil {
			return nil, err
		}
		return &wasmProvider{desc: desc, mod: mod}, nil
	case BackendNative:
		lib, err := native.Open(desc.Path)
		if err != nil {
			return nil, err
		}
		return &nativeProvider{desc: desc, lib: lib}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, desc.Path)
}
