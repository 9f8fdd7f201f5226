// Command runcrate discovers and runs the runnable targets of a cargo
// project tree: examples, binaries, tests, benches, standalone
// scripts, framework apps, and plugin-contributed targets.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/runcrate/internal/app"
	"github.com/dshills/runcrate/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, showVersion, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, "runcrate:", err)
		return 2
	}
	if showVersion {
		fmt.Println("runcrate", version.Current)
		return 0
	}

	ctx := context.Background()

	a, err := app.New(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runcrate:", err)
		return 1
	}
	defer a.Shutdown(ctx)

	code, err := a.Run(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runcrate:", err)
		return 1
	}
	return code
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// runAllFlag enables run-all mode; an optional numeric value doubles
// as the per-target timeout in seconds (--run-all=5).
type runAllFlag struct {
	enabled     *bool
	timeoutSecs *int
}

func (f runAllFlag) String() string {
	if f.enabled == nil || !*f.enabled {
		return "false"
	}
	return "true"
}

func (f runAllFlag) Set(v string) error {
	switch v {
	case "", "true":
		*f.enabled = true
		return nil
	case "false":
		*f.enabled = false
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid --run-all value %q: want nothing or seconds", v)
	}
	*f.enabled = true
	*f.timeoutSecs = n
	return nil
}

func (runAllFlag) IsBoolFlag() bool { return true }

func parseFlags(args []string) (app.Options, bool, error) {
	var opts app.Options
	var showVersion bool
	var features string
	var scanDirs stringList
	var detachedHold, detachedDelay int

	fs := flag.NewFlagSet("runcrate", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: runcrate [flags] [target] [-- extra args]")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.ConfigPath, "config", "", "configuration file path")
	fs.StringVar(&opts.ConfigPath, "c", "", "shorthand for --config")
	fs.StringVar(&opts.Subcommand, "subcommand", "", "cargo subcommand: run, build, test, or bench")
	fs.StringVar(&opts.Subcommand, "s", "", "shorthand for --subcommand")
	opts.TimeoutSecs = -1
	fs.Var(runAllFlag{&opts.RunAll, &opts.TimeoutSecs}, "run-all",
		"run every runnable target; an optional value is the per-target timeout in seconds")
	fs.BoolVar(&opts.RunAll, "a", false, "shorthand for --run-all")
	fs.BoolVar(&opts.Filter, "filter", false, "enable structured diagnostics and the external collaborators")
	fs.StringVar(&opts.Match, "match", "", "restrict --run-all to names containing this substring")
	fs.IntVar(&opts.RunAtATime, "run-at-a-time", 0, "concurrent targets for --run-all (0 uses config)")
	fs.IntVar(&opts.RunAtATime, "j", 0, "shorthand for --run-at-a-time")
	fs.IntVar(&opts.TimeoutSecs, "timeout", -1, "per-target timeout in seconds (0 runs forever)")
	fs.IntVar(&opts.TimeoutSecs, "t", -1, "shorthand for --timeout")
	fs.BoolVar(&opts.Release, "release", false, "build with the release profile")
	fs.BoolVar(&opts.Release, "r", false, "shorthand for --release")
	fs.StringVar(&features, "features", "", "comma-separated cargo features")
	fs.StringVar(&features, "F", "", "shorthand for --features")
	fs.BoolVar(&opts.Cached, "cached", false, "run a previously built artifact when available")
	fs.BoolVar(&opts.Detached, "detached", false, "run each target in its own terminal window")
	fs.BoolVar(&opts.Detached, "d", false, "shorthand for --detached")
	fs.IntVar(&detachedHold, "detached-hold", 0, "seconds a detached window stays open after exit")
	fs.IntVar(&detachedDelay, "detached-delay", 0, "seconds between detached window launches")
	fs.BoolVar(&opts.Workspace, "workspace", false, "include all workspace members")
	fs.BoolVar(&opts.Workspace, "w", false, "shorthand for --workspace")
	fs.Var(&scanDirs, "scan-dir", "extra directory tree to scan (repeatable)")
	fs.StringVar(&opts.ManifestPath, "manifest-path", "", "path to Cargo.toml")
	fs.BoolVar(&opts.JSONAllTargets, "json-all-targets", false, "print all targets as JSON and exit")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.BoolVar(&showVersion, "v", false, "shorthand for --version")

	if err := fs.Parse(args); err != nil {
		return opts, false, err
	}

	if features != "" {
		opts.Features = strings.Split(features, ",")
	}
	opts.ScanDirs = scanDirs
	opts.DetachedHold = time.Duration(detachedHold) * time.Second
	opts.DetachedDelay = time.Duration(detachedDelay) * time.Second

	opts.TargetQuery, opts.ExtraArgs = splitPositional(fs.Args())
	return opts, showVersion, nil
}

// splitPositional separates the target query from pass-through args.
// The first positional names the target; everything after "--" goes to
// the child.
func splitPositional(args []string) (query string, extra []string) {
	for i, arg := range args {
		if arg == "--" {
			extra = args[i+1:]
			break
		}
		if query == "" {
			query = arg
		}
	}
	return query, extra
}
