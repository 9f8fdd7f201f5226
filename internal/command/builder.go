package command

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/runcrate/internal/target"
)

// Subcommand names accepted by the builder.
const (
	SubcommandRun   = "run"
	SubcommandBuild = "build"
	SubcommandTest  = "test"
	SubcommandBench = "bench"
)

// Options select how a target's invocation is built.
type Options struct {
	// Subcommand is run, build, test or bench. Test and bench targets
	// force their own subcommand regardless.
	Subcommand string

	// Release selects the release profile.
	Release bool

	// Features are extra cargo features, unioned with the target's
	// required features.
	Features []string

	// ExtraArgs are passed to the child after "--".
	ExtraArgs []string

	// Cached executes a previously built artifact directly when one is
	// present for the target+profile fingerprint, skipping the build.
	Cached bool
}

// Build deterministically maps a resolved target plus options to a
// Spec. Framework apps route to their framework runner; scripts bypass
// cargo and invoke the detected interpreter directly.
func Build(t target.Target, opts Options) (*Spec, error) {
	switch t.Kind {
	case target.KindScript:
		return buildScript(t, opts), nil
	case target.KindFrameworkApp:
		return buildFramework(t, opts)
	default:
		return buildGeneric(t, opts)
	}
}

func buildScript(t target.Target, opts Options) *Spec {
	args := []string{t.SourcePath}
	args = append(args, opts.ExtraArgs...)
	return &Spec{
		Prog: t.Interpreter,
		Args: args,
		Dir:  filepath.Dir(t.SourcePath),
	}
}

func buildFramework(t target.Target, opts Options) (*Spec, error) {
	var spec *Spec
	switch t.Framework {
	case target.FrameworkTauri:
		sub := "dev"
		if opts.Subcommand == SubcommandBuild {
			sub = "build"
		}
		spec = &Spec{Prog: "cargo", Args: []string{"tauri", sub}}
	case target.FrameworkDioxus:
		sub := "serve"
		if opts.Subcommand == SubcommandBuild {
			sub = "build"
		}
		spec = &Spec{Prog: "dx", Args: []string{sub}}
	case target.FrameworkLeptos:
		sub := "serve"
		if opts.Subcommand == SubcommandBuild {
			sub = "build"
		}
		spec = &Spec{Prog: "trunk", Args: []string{sub}}
	default:
		return nil, fmt.Errorf("unknown framework %q for target %s", t.Framework, t.Name)
	}
	if opts.Release {
		spec.Args = append(spec.Args, "--release")
	}
	spec.Args = append(spec.Args, opts.ExtraArgs...)
	spec.Dir = t.Dir()
	return spec, nil
}

func buildGeneric(t target.Target, opts Options) (*Spec, error) {
	sub := subcommandFor(t, opts)

	if opts.Cached && sub == SubcommandRun {
		if artifact, ok := cachedArtifact(t, opts.Release); ok {
			return &Spec{
				Prog: artifact,
				Args: append([]string(nil), opts.ExtraArgs...),
				Dir:  t.Dir(),
			}, nil
		}
	}

	args := []string{sub}
	switch t.Kind {
	case target.KindExample, target.KindManifestExample:
		if sub == SubcommandRun || sub == SubcommandBuild {
			args = append(args, "--example", t.Name)
		} else {
			args = append(args, t.Name)
		}
	case target.KindBinary:
		if sub == SubcommandRun || sub == SubcommandBuild {
			args = append(args, "--bin", t.Name)
		}
	case target.KindTest:
		args = append(args, "--test", t.Name)
	case target.KindBench:
		args = append(args, "--bench", t.Name)
	default:
		return nil, fmt.Errorf("cannot build a cargo invocation for kind %q", t.Kind)
	}

	args = append(args, "--manifest-path", t.ManifestPath)
	if opts.Release {
		args = append(args, "--release")
	}
	if feats := featureUnion(t.RequiredFeatures, opts.Features); len(feats) > 0 {
		args = append(args, "--features", strings.Join(feats, ","))
	}
	if len(opts.ExtraArgs) > 0 && sub != SubcommandBuild {
		args = append(args, "--")
		args = append(args, opts.ExtraArgs...)
	}

	return &Spec{Prog: "cargo", Args: args, Dir: t.Dir()}, nil
}

func subcommandFor(t target.Target, opts Options) string {
	switch t.Kind {
	case target.KindTest:
		return SubcommandTest
	case target.KindBench:
		return SubcommandBench
	}
	switch opts.Subcommand {
	case SubcommandBuild, SubcommandTest, SubcommandBench:
		return opts.Subcommand
	default:
		return SubcommandRun
	}
}

// featureUnion merges required and requested features preserving set
// semantics with deterministic order.
func featureUnion(required, extra []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range append(append([]string{}, required...), extra...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// cachedArtifact checks whether a previously built artifact exists for
// the target+profile and is at least as new as the target's source.
func cachedArtifact(t target.Target, release bool) (string, bool) {
	profile := "debug"
	if release {
		profile = "release"
	}
	root := filepath.Join(t.Dir(), "target", profile)

	var candidates []string
	switch t.Kind {
	case target.KindExample, target.KindManifestExample:
		candidates = append(candidates,
			filepath.Join(root, "examples", t.Name),
			filepath.Join(root, "examples", t.Name+".exe"))
	default:
		candidates = append(candidates,
			filepath.Join(root, t.Name),
			filepath.Join(root, t.Name+".exe"))
	}

	for _, artifact := range candidates {
		info, err := os.Stat(artifact)
		if err != nil || info.IsDir() {
			continue
		}
		if t.SourcePath != "" {
			src, err := os.Stat(t.SourcePath)
			if err == nil && src.ModTime().After(info.ModTime()) {
				continue // stale
			}
		}
		return artifact, true
	}
	return "", false
}
