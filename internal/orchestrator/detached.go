package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/dshills/runcrate/internal/command"
)

// livenessInterval is the detached process poll cadence.
const livenessInterval = 500 * time.Millisecond

// postReapWait bounds how long a reaped launcher may still look alive
// before the launch counts as finished. The pid of a reaped child can
// be recycled by an unrelated process, which would otherwise keep the
// liveness poll spinning forever.
const postReapWait = 5 * time.Second

// ErrNoTerminal is returned when no terminal launcher can be found.
var ErrNoTerminal = errors.New("no terminal launcher available")

// DetachedOptions tune detached launches.
type DetachedOptions struct {
	// Hold keeps the terminal window open after the target exits.
	Hold time.Duration

	// Delay waits between consecutive launches.
	Delay time.Duration
}

// RunDetached launches each job in its own OS terminal window and
// waits for the windows to close. No output is captured; liveness is
// tracked by polling the launcher's process handle. Exit codes of
// detached targets are unknowable and recorded as zero.
func (o *Orchestrator) RunDetached(ctx context.Context, jobs []Job, opts DetachedOptions) []Result {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		if i > 0 && opts.Delay > 0 {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
			}
		}
		results[i] = o.runDetached(ctx, job, opts)
	}
	return results
}

func (o *Orchestrator) runDetached(ctx context.Context, job Job, opts DetachedOptions) Result {
	result := Result{TargetName: job.Target.Name, ExitCode: -1}

	launcher, err := terminalLauncher(&job.Spec, opts.Hold)
	if err != nil {
		result.SpawnErr = err
		return result
	}

	cmd := exec.Command(launcher[0], launcher[1:]...)
	cmd.Dir = job.Spec.Dir

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.SpawnErr = err
		return result
	}
	pid := cmd.Process.Pid
	o.opts.Logger.Info("detached target launched",
		"target", job.Target.Name, "pid", pid)

	reaped := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(reaped)
	}()

	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()
	var reapedAt time.Time
	for {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			result.Duration = time.Since(start)
			return result
		case <-ticker.C:
			// Forking launchers hand the window to a daemon; the
			// launch counts as done once the pid is gone and reaped.
			select {
			case <-reaped:
				if reapedAt.IsZero() {
					reapedAt = time.Now()
				}
				if launchDone(processAlive(pid), reapedAt, time.Now()) {
					result.ExitCode = 0
					result.Duration = time.Since(start)
					return result
				}
			default:
			}
		}
	}
}

// launchDone reports whether a reaped launcher counts as finished:
// its pid is gone, or it has looked alive past the post-reap bound,
// which means the pid now belongs to an unrelated process.
func launchDone(alive bool, reapedAt, now time.Time) bool {
	return !alive || now.Sub(reapedAt) > postReapWait
}

// terminalLauncher builds the platform's launch-in-a-window argv for
// a command spec.
func terminalLauncher(spec *command.Spec, hold time.Duration) ([]string, error) {
	inner := spec.String()
	if hold > 0 {
		inner = fmt.Sprintf("%s; sleep %d", inner, int(hold.Seconds()))
	}

	switch runtime.GOOS {
	case "windows":
		return []string{"cmd", "/c", "start", "cmd", "/k", inner}, nil
	case "darwin":
		script := fmt.Sprintf(`tell application "Terminal" to do script %q`, inner)
		return []string{"osascript", "-e", script}, nil
	default:
		for _, emulator := range []string{"x-terminal-emulator", "gnome-terminal", "konsole", "xterm"} {
			if _, err := exec.LookPath(emulator); err == nil {
				if emulator == "gnome-terminal" {
					return []string{emulator, "--", "sh", "-c", inner}, nil
				}
				return []string{emulator, "-e", "sh -c " + shellQuote(inner)}, nil
			}
		}
		return nil, ErrNoTerminal
	}
}

// shellQuote wraps a string in single quotes when it contains shell
// metacharacters, escaping embedded quotes.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !isShellSafe(c) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, c := range s {
		if c == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteRune(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func isShellSafe(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '/'
}
