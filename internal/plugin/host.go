package plugin

import (
	"fmt"
	"log/slog"

	"github.com/dshills/runcrate/internal/command"
	"github.com/dshills/runcrate/internal/target"
)

// Host owns the loaded providers and mediates every call into them.
// Provider failures are downgraded to warnings: plugins extend the
// target surface, they never break it.
type Host struct {
	providers []Provider
	byName    map[string]Provider
	logger    *slog.Logger
}

// NewHost creates an empty host.
func NewHost(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		byName: make(map[string]Provider),
		logger: logger,
	}
}

// Add registers a provider. When two providers report the same name
// the earlier registration wins.
func (h *Host) Add(p Provider) {
	name := p.Name()
	if name == "" {
		h.logger.Warn("provider with empty name dropped")
		return
	}
	if _, exists := h.byName[name]; exists {
		h.logger.Warn("duplicate provider name dropped", "name", name)
		return
	}
	h.providers = append(h.providers, p)
	h.byName[name] = p
}

// Len returns the number of registered providers.
func (h *Host) Len() int { return len(h.providers) }

// Names returns the registered provider names in load order.
func (h *Host) Names() []string {
	names := make([]string, 0, len(h.providers))
	for _, p := range h.providers {
		names = append(names, p.Name())
	}
	return names
}

// CollectTargets gathers plugin targets for a directory from every
// provider that claims it. A failing provider contributes nothing.
func (h *Host) CollectTargets(dir string) []target.Target {
	var all []target.Target
	for _, p := range h.providers {
		if !p.Matches(dir) {
			continue
		}
		targets, err := p.CollectTargets(dir)
		if err != nil {
			h.logger.Warn("provider target collection failed",
				"provider", p.Name(), "dir", dir, "error", err)
			continue
		}
		all = append(all, targets...)
	}
	return all
}

// BuildCommand asks a target's contributing provider for its command.
func (h *Host) BuildCommand(dir string, t *target.Target) (*command.Spec, error) {
	p, err := h.providerFor(t)
	if err != nil {
		return nil, err
	}
	return p.BuildCommand(dir, t)
}

// Run attempts an in-process run of a plugin target. It returns
// ran=false when the provider has no in-process entry point or the
// in-process attempt failed; the caller then falls back to spawning
// BuildCommand externally.
func (h *Host) Run(dir string, t *target.Target) (outcome RunOutcome, ran bool, err error) {
	p, err := h.providerFor(t)
	if err != nil {
		return RunOutcome{}, false, err
	}

	runner, ok := p.(Runner)
	if !ok || !runner.HasRun(t) {
		return RunOutcome{}, false, nil
	}

	outcome, runErr := safeRun(runner, dir, t)
	if runErr != nil {
		// In-process failure demotes to the external path.
		h.logger.Warn("in-process plugin run failed, falling back to command",
			"provider", p.Name(), "target", t.Name, "error", runErr)
		return RunOutcome{}, false, nil
	}
	return outcome, true, nil
}

// Close releases every provider's runtime.
func (h *Host) Close() error {
	var first error
	for _, p := range h.providers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *Host) providerFor(t *target.Target) (Provider, error) {
	if t.Kind != target.KindPlugin {
		return nil, fmt.Errorf("%w: target %s is not plugin-provided", ErrNotRunnable, t.Name)
	}
	p, ok := h.byName[t.PluginName]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s", ErrNotRunnable, t.PluginName)
	}
	return p, nil
}

func safeRun(r Runner, dir string, t *target.Target) (outcome RunOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("plugin run panic: %v", p)
		}
	}()
	return r.Run(dir, t)
}
