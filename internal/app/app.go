// Package app wires the subsystems into the runcrate application:
// configuration, plugin host, target registry, orchestrator, reports,
// and the collaborator event subscribers. The cmd layer parses flags
// and hands an Options here; everything else happens in this package.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/dshills/runcrate/internal/command"
	"github.com/dshills/runcrate/internal/config"
	"github.com/dshills/runcrate/internal/diagnostics"
	"github.com/dshills/runcrate/internal/event"
	"github.com/dshills/runcrate/internal/manifest"
	"github.com/dshills/runcrate/internal/orchestrator"
	"github.com/dshills/runcrate/internal/plugin"
	"github.com/dshills/runcrate/internal/report"
	"github.com/dshills/runcrate/internal/target"
	"github.com/dshills/runcrate/internal/version"
)

// Options are the resolved invocation settings, mostly from flags.
type Options struct {
	// ConfigPath overrides config discovery.
	ConfigPath string

	// Root is the project root. Empty means the working directory.
	Root string

	// TargetQuery selects the target to run; empty auto-selects a
	// singleton registry.
	TargetQuery string

	// ExtraArgs are passed to the child after "--".
	ExtraArgs []string

	// Subcommand is run, build, test, or bench.
	Subcommand string

	// Release selects the release profile.
	Release bool

	// Features are extra cargo features.
	Features []string

	// RunAll runs every runnable target instead of one.
	RunAll bool

	// Filter enables the structured diagnostics output and the
	// side-channel collaborators.
	Filter bool

	// Match restricts RunAll to targets whose name contains it,
	// case-insensitively.
	Match string

	// RunAtATime overrides the configured pool size when positive.
	RunAtATime int

	// TimeoutSecs overrides the configured per-target timeout when
	// non-negative. Zero means run forever.
	TimeoutSecs int

	// Cached prefers a previously built artifact over a rebuild.
	Cached bool

	// Detached runs each target in its own terminal window.
	Detached bool

	// DetachedHold keeps a detached window open after exit.
	DetachedHold time.Duration

	// DetachedDelay staggers detached window launches.
	DetachedDelay time.Duration

	// Workspace widens the scan to all workspace members.
	Workspace bool

	// ScanDirs are extra directory trees to scan.
	ScanDirs []string

	// ManifestPath overrides manifest discovery.
	ManifestPath string

	// JSONAllTargets dumps the registry as JSON and exits.
	JSONAllTargets bool

	// Stdout receives listings and summaries. Defaults to os.Stdout.
	Stdout io.Writer

	// Logger overrides the configured handler, mainly for tests.
	Logger *slog.Logger
}

// App is the bootstrapped application.
type App struct {
	opts   Options
	logger *slog.Logger
	root   string

	mu  sync.RWMutex
	cfg *config.Config

	bus      *event.Bus
	filter   *diagnostics.Filter
	host     *plugin.Host
	registry *target.Registry
	watcher  *config.Watcher

	orchMu sync.Mutex
	orch   *orchestrator.Orchestrator
}

// New loads configuration, the plugin host, and the target registry.
// The caller owns the returned App and must call Shutdown.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		}))
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	root := opts.Root
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	a := &App{
		opts:   opts,
		logger: logger,
		root:   root,
		cfg:    cfg,
		bus:    event.NewBus(256),
	}
	a.filter = diagnostics.NewFilter(a.bus)

	a.host = a.loadPlugins(ctx, cfg)
	if a.registry, err = a.scan(cfg); err != nil {
		a.teardown(ctx)
		return nil, err
	}
	a.registry.MergePlugin(a.host.CollectTargets(root))

	if opts.Filter {
		wireCollaborators(a.bus, cfg, logger)
	}

	if opts.ConfigPath != "" {
		w, err := config.Watch(opts.ConfigPath, a.swapConfig, logger)
		if err != nil {
			logger.Warn("config watch unavailable", "error", err)
		} else {
			a.watcher = w
		}
	}

	if cfg.Version.Check {
		version.CheckAsync(ctx, logger)
	}
	return a, nil
}

func (a *App) loadPlugins(ctx context.Context, cfg *config.Config) *plugin.Host {
	dirs := plugin.DefaultDirs("", a.root)
	for _, dir := range cfg.Plugins.Dirs {
		dirs = append(dirs, plugin.TierDir{Tier: plugin.TierProject, Path: dir})
	}
	loader := plugin.NewLoader(
		plugin.WithDirs(dirs...),
		plugin.WithDisabled(cfg.Plugins.Disabled...),
		plugin.WithLogger(a.logger),
	)
	return loader.Load(ctx)
}

func (a *App) scan(cfg *config.Config) (*target.Registry, error) {
	var history map[string]int
	if cfg.Reports.History {
		history = report.LoadCounts(report.DefaultHistoryPath())
	}
	return target.Scan(a.root, target.ScanOptions{
		ManifestPath: a.opts.ManifestPath,
		Workspace:    a.opts.Workspace || cfg.Scan.Workspace,
		ScanDirs:     append(append([]string(nil), cfg.Scan.Dirs...), a.opts.ScanDirs...),
		History:      history,
	})
}

func (a *App) swapConfig(cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func (a *App) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Registry exposes the scanned targets.
func (a *App) Registry() *target.Registry { return a.registry }

// Run executes the selected targets and returns the process exit code.
func (a *App) Run(ctx context.Context) (int, error) {
	if a.opts.JSONAllTargets {
		return 0, a.dumpTargets()
	}

	selected, err := a.selectTargets()
	if err != nil {
		return 1, err
	}

	cfg := a.config()
	orch := orchestrator.New(orchestrator.Options{
		Workers:  a.workers(cfg),
		Timeout:  a.timeout(cfg),
		Grace:    cfg.Grace(),
		Keys:     orchestrator.NewKeyWatcher(),
		Filter:   a.filter,
		Bus:      a.bus,
		Logger:   a.logger,
	})
	a.orchMu.Lock()
	a.orch = orch
	a.orchMu.Unlock()

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go orch.HandleInterrupts(ctx, sigs)

	startedAt := time.Now()
	results, err := a.execute(ctx, orch, selected)
	if err != nil {
		return 1, err
	}

	a.printSummary(results)
	a.persist(cfg, startedAt, selected, results)
	return report.AggregateExit(results), nil
}

// selectTargets maps the query flags onto registry targets.
func (a *App) selectTargets() ([]target.Target, error) {
	if a.opts.RunAll {
		selected := filterTargets(a.registry.All(), a.opts.Match)
		if len(selected) == 0 {
			return nil, target.ErrNoTargets
		}
		return selected, nil
	}

	res, err := a.registry.Resolve(a.opts.TargetQuery)
	if err != nil {
		return nil, err
	}
	if len(res.Matches) > 0 && res.Selected != nil {
		a.logger.Info("resolved by unique partial match",
			"query", a.opts.TargetQuery, "target", res.Selected.Name)
	}
	return []target.Target{*res.Selected}, nil
}

// filterTargets keeps runnable targets whose name contains filter,
// case-insensitively. An empty filter keeps everything runnable.
func filterTargets(targets []target.Target, filter string) []target.Target {
	needle := strings.ToLower(filter)
	var out []target.Target
	for _, t := range targets {
		if !t.Runnable() {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(t.Name), needle) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// execute runs the selection. Plugin targets with an in-process entry
// point run directly on the host; everything else is assembled into
// jobs for the orchestrator. Results come back in selection order.
func (a *App) execute(ctx context.Context, orch *orchestrator.Orchestrator, selected []target.Target) ([]orchestrator.Result, error) {
	results := make([]orchestrator.Result, len(selected))
	var jobs []orchestrator.Job
	var jobIdx []int

	for i := range selected {
		t := selected[i]
		if t.Kind == target.KindPlugin {
			if res, ran := a.runPluginInProcess(&t); ran {
				results[i] = res
				continue
			}
		}
		job, err := a.buildJob(t)
		if err != nil {
			return nil, fmt.Errorf("building command for %s: %w", t.Name, err)
		}
		jobs = append(jobs, job)
		jobIdx = append(jobIdx, i)
	}

	var pooled []orchestrator.Result
	if a.opts.Detached {
		pooled = orch.RunDetached(ctx, jobs, orchestrator.DetachedOptions{
			Hold:  a.opts.DetachedHold,
			Delay: a.opts.DetachedDelay,
		})
	} else {
		pooled = orch.Run(ctx, jobs)
	}
	for k, res := range pooled {
		results[jobIdx[k]] = res
	}

	a.retryWorkspacePatched(ctx, orch, selected, jobs, jobIdx, results)
	return results, nil
}

// runPluginInProcess attempts the provider's own run entry point.
// Output lines feed the diagnostics filter exactly as spawned output
// would.
func (a *App) runPluginInProcess(t *target.Target) (orchestrator.Result, bool) {
	start := time.Now()
	outcome, ran, err := a.host.Run(a.root, t)
	if err != nil || !ran {
		return orchestrator.Result{}, false
	}

	res := orchestrator.Result{
		TargetName: t.Name,
		ExitCode:   outcome.ExitCode,
		Duration:   time.Since(start),
	}
	for _, content := range outcome.Lines {
		line := diagnostics.Line{Content: content, Timestamp: time.Now()}
		a.filter.Ingest(t.Name, diagnostics.StreamStdout, line)
		res.Output = append(res.Output, orchestrator.OutputLine{
			Stream: diagnostics.StreamStdout,
			Line:   line,
		})
	}
	res.Summary = a.filter.Finalize(t.Name)
	res.Diagnostics = a.filter.Diagnostics(t.Name)
	return res, true
}

func (a *App) buildJob(t target.Target) (orchestrator.Job, error) {
	if t.Kind == target.KindPlugin {
		spec, err := a.host.BuildCommand(a.root, &t)
		if err != nil {
			return orchestrator.Job{}, err
		}
		return orchestrator.Job{Target: t, Spec: *spec, BaseDir: spec.Dir}, nil
	}

	spec, err := command.Build(t, command.Options{
		Subcommand: a.opts.Subcommand,
		Release:    a.opts.Release,
		Features:   a.opts.Features,
		ExtraArgs:  a.opts.ExtraArgs,
		Cached:     a.opts.Cached,
	})
	if err != nil {
		return orchestrator.Job{}, err
	}
	return orchestrator.Job{Target: t, Spec: *spec, BaseDir: t.Dir()}, nil
}

// retryWorkspacePatched retries, at most once per target, failures
// caused by cargo's orphaned-member complaint, with the manifest
// temporarily patched to opt out of the enclosing workspace.
func (a *App) retryWorkspacePatched(ctx context.Context, orch *orchestrator.Orchestrator, selected []target.Target, jobs []orchestrator.Job, jobIdx []int, results []orchestrator.Result) {
	for k := range jobs {
		i := jobIdx[k]
		res := &results[i]
		if res.SpawnErr != nil || res.ExitCode == 0 || !hasWorkspaceComplaint(res) {
			continue
		}
		t := selected[i]
		a.logger.Info("retrying with workspace-patched manifest", "target", t.Name)
		err := manifest.WithPatched(t.ManifestPath, manifest.DefaultPatchOptions(), func() error {
			a.filter.Reset(t.Name)
			retried := orch.Run(ctx, []orchestrator.Job{jobs[k]})
			results[i] = retried[0]
			return nil
		})
		if err != nil {
			a.logger.Warn("workspace patch failed", "target", t.Name, "error", err)
		}
	}
}

func hasWorkspaceComplaint(res *orchestrator.Result) bool {
	for _, line := range res.Output {
		if manifest.NeedsWorkspacePatch(line.Line.Content) {
			return true
		}
	}
	return false
}

func (a *App) workers(cfg *config.Config) int {
	if a.opts.RunAtATime > 0 {
		return a.opts.RunAtATime
	}
	return cfg.Run.AtATime
}

func (a *App) timeout(cfg *config.Config) time.Duration {
	if a.opts.TimeoutSecs >= 0 {
		return time.Duration(a.opts.TimeoutSecs) * time.Second
	}
	return cfg.Timeout()
}

func (a *App) dumpTargets() error {
	enc := json.NewEncoder(a.opts.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(a.registry.All())
}

func (a *App) printSummary(results []orchestrator.Result) {
	for i := range results {
		res := &results[i]
		status := "ok"
		switch {
		case res.SpawnErr != nil:
			status = "failed to start: " + res.SpawnErr.Error()
		case res.TimedOut:
			status = "timed out"
		case res.Cancelled:
			status = "cancelled"
		case res.ExitCode != 0:
			status = fmt.Sprintf("exit %d", res.ExitCode)
		}
		fmt.Fprintf(a.opts.Stdout, "%-30s %-10s %8s  errors=%d warnings=%d\n",
			res.TargetName, status, res.Duration.Round(time.Millisecond),
			res.Summary.Errors, res.Summary.Warnings)
	}
}

func (a *App) persist(cfg *config.Config, startedAt time.Time, selected []target.Target, results []orchestrator.Result) {
	if cfg.Reports.Dir != "" {
		rep := report.Build(a.root, startedAt, results)
		if path, err := rep.Write(cfg.Reports.Dir); err != nil {
			a.logger.Warn("report not written", "error", err)
		} else {
			a.logger.Debug("report written", "path", path)
		}
	}
	if cfg.Reports.History {
		names := make([]string, len(selected))
		for i, t := range selected {
			names[i] = t.Name
		}
		if err := report.Record(report.DefaultHistoryPath(), names, time.Now()); err != nil {
			a.logger.Warn("run history not recorded", "error", err)
		}
	}
}

// Shutdown releases the host, the bus, and the config watcher.
func (a *App) Shutdown(ctx context.Context) {
	a.orchMu.Lock()
	if a.orch != nil {
		a.orch.Shutdown()
	}
	a.orchMu.Unlock()
	a.teardown(ctx)
}

func (a *App) teardown(ctx context.Context) {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if err := a.host.Close(); err != nil {
		a.logger.Warn("plugin host close", "error", err)
	}
	if err := a.bus.Stop(ctx); err != nil {
		a.logger.Warn("event bus stop", "error", err)
	}
}
