// Package orchestrator runs target commands under a bounded worker
// pool. Each child runs in its own process group so signals reach
// grandchildren, and two reader goroutines capture its output, feeding
// each line to the diagnostics filter as it arrives. The final
// Result.Output is merged across streams in timestamp order.
package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/runcrate/internal/command"
	"github.com/dshills/runcrate/internal/diagnostics"
	"github.com/dshills/runcrate/internal/event"
	"github.com/dshills/runcrate/internal/target"
)

// Defaults.
const (
	DefaultWorkers = 1
	DefaultGrace   = 3 * time.Second

	// maxLineLength bounds the scanner token size so a binary spewing
	// an unbroken line cannot exhaust memory.
	maxLineLength = 1024 * 1024
)

// ErrShutdown is recorded for jobs dropped by a full shutdown.
var ErrShutdown = errors.New("orchestrator shut down")

// Job pairs a target with the command that runs it.
type Job struct {
	// Target is the target being run.
	Target target.Target

	// Spec is the resolved invocation.
	Spec command.Spec

	// BaseDir resolves relative diagnostic paths, normally the
	// manifest directory.
	BaseDir string
}

// OutputLine is one captured line with its stream.
type OutputLine struct {
	Stream diagnostics.Stream
	Line   diagnostics.Line
}

// Result is the final record for one job.
type Result struct {
	// TargetName names the job's target.
	TargetName string `json:"targetName"`

	// ExitCode is the child's exit code; -1 when it was signaled or
	// never ran.
	ExitCode int `json:"exitCode"`

	// Duration is wall time from spawn to reap.
	Duration time.Duration `json:"duration"`

	// Diagnostics are the structured records parsed from output.
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics,omitempty"`

	// Summary counts diagnostics per severity.
	Summary diagnostics.Summary `json:"summary"`

	// TimedOut reports that the per-target timeout expired.
	TimedOut bool `json:"timedOut,omitempty"`

	// Cancelled reports cancellation by interrupt or shutdown.
	Cancelled bool `json:"cancelled,omitempty"`

	// SpawnErr holds the spawn failure, if the child never started.
	SpawnErr error `json:"-"`

	// Output is the merged, ordered captured output.
	Output []OutputLine `json:"-"`
}

// Failed reports whether the result counts against the aggregate
// exit status.
func (r *Result) Failed() bool {
	return r.SpawnErr != nil || r.ExitCode != 0 || r.TimedOut || r.Cancelled
}

// Options configure an Orchestrator.
type Options struct {
	// Workers bounds concurrent children. Zero means DefaultWorkers.
	Workers int

	// Timeout bounds each child's runtime. Zero means run forever.
	Timeout time.Duration

	// Grace is the window between the graceful group signal and the
	// force kill. Zero means DefaultGrace.
	Grace time.Duration

	// Keys, when non-nil, lets a keystroke short-circuit the grace
	// window. The terminal is armed only for the window's duration.
	Keys *KeyWatcher

	// Filter receives captured output. Required.
	Filter *diagnostics.Filter

	// Bus carries run lifecycle events; nil disables them.
	Bus *event.Bus

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Orchestrator owns the pool and the tracked children.
type Orchestrator struct {
	opts Options

	// tracked maps target name to the running child's pgid holder.
	tracked sync.Map

	quit     chan struct{}
	quitOnce sync.Once

	drainOnce sync.Once
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		opts: opts,
		quit: make(chan struct{}),
	}
}

// Run executes the jobs FIFO across the worker pool and returns
// results in job order. It blocks until every job finishes, is
// cancelled, or the orchestrator shuts down.
func (o *Orchestrator) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	done := make([]bool, len(jobs))

	queue := make(chan int, len(jobs))
	for i := range jobs {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < o.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-o.quit:
					return
				case idx, ok := <-queue:
					if !ok {
						return
					}
					select {
					case <-o.quit:
						return
					default:
					}
					results[idx] = o.runOne(ctx, jobs[idx])
					done[idx] = true
				}
			}
		}()
	}
	wg.Wait()

	for i := range jobs {
		if !done[i] {
			results[i] = Result{
				TargetName: jobs[i].Target.Name,
				ExitCode:   -1,
				Cancelled:  true,
				SpawnErr:   ErrShutdown,
			}
		}
	}
	return results
}

// CancelInflight sends the graceful group signal to every tracked
// child. Queued jobs keep running.
func (o *Orchestrator) CancelInflight() {
	o.tracked.Range(func(_, v any) bool {
		child := v.(*trackedChild)
		child.interrupt()
		return true
	})
}

// Shutdown drops the queue and force-kills every tracked child.
// Safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.quitOnce.Do(func() { close(o.quit) })
	o.drainOnce.Do(func() {
		o.tracked.Range(func(_, v any) bool {
			child := v.(*trackedChild)
			child.kill()
			return true
		})
	})
}

// trackedChild is a live child process and its cancel hooks.
type trackedChild struct {
	pid    int
	cancel context.CancelFunc
}

func (c *trackedChild) interrupt() {
	_ = signalGroupInterrupt(c.pid)
	c.cancel()
}

func (c *trackedChild) kill() {
	_ = signalGroupKill(c.pid)
	c.cancel()
}

func (o *Orchestrator) runOne(parent context.Context, job Job) Result {
	name := job.Target.Name
	result := Result{TargetName: name, ExitCode: -1}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cmd := exec.Command(job.Spec.Prog, job.Spec.Args...)
	cmd.Dir = job.Spec.Dir
	cmd.Env = mergedEnv(job.Spec.Env)
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		result.SpawnErr = err
		return result
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		result.SpawnErr = err
		return result
	}

	if job.BaseDir != "" {
		o.opts.Filter.SetBaseDir(name, job.BaseDir)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.SpawnErr = err
		return result
	}

	child := &trackedChild{pid: cmd.Process.Pid, cancel: cancel}
	o.tracked.Store(name, child)
	defer o.tracked.Delete(name)

	o.publish(event.TopicRunStarted, name)
	o.opts.Logger.Debug("target started",
		"target", name, "pid", cmd.Process.Pid, "command", job.Spec.String())

	var outLines, errLines []OutputLine
	readers := new(errgroup.Group)
	readers.Go(func() error {
		outLines = o.readStream(stdout, name, diagnostics.StreamStdout)
		return nil
	})
	readers.Go(func() error {
		errLines = o.readStream(stderr, name, diagnostics.StreamStderr)
		return nil
	})

	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if o.opts.Timeout > 0 {
		timer := time.NewTimer(o.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timeout:
		result.TimedOut = true
		waitErr = o.terminate(child.pid, waitCh)
	case <-ctx.Done():
		result.Cancelled = true
		waitErr = o.terminate(child.pid, waitCh)
	}
	// A cancel can reap the child before the select observes
	// ctx.Done; classify by the context, not by the race.
	if !result.TimedOut && ctx.Err() != nil {
		result.Cancelled = true
	}

	result.Duration = time.Since(start)
	result.ExitCode = exitCode(waitErr)

	result.Output = MergeLines(outLines, errLines)
	result.Summary = o.opts.Filter.Finalize(name)
	result.Diagnostics = o.opts.Filter.Diagnostics(name)

	o.publish(event.TopicRunCompleted, &result)
	o.opts.Logger.Debug("target finished",
		"target", name, "exitCode", result.ExitCode,
		"duration", result.Duration, "timedOut", result.TimedOut,
		"cancelled", result.Cancelled)
	return result
}

// terminate sends the graceful group signal, waits out the grace
// window (short-circuited by a key press or the child exiting), then
// force-kills the group and reaps the child.
func (o *Orchestrator) terminate(pid int, waitCh <-chan error) error {
	_ = signalGroupInterrupt(pid)

	keys, disarm := o.opts.Keys.Arm()
	defer disarm()

	grace := time.NewTimer(o.opts.Grace)
	defer grace.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-grace.C:
	case <-keys:
	}
	_ = signalGroupKill(pid)
	return <-waitCh
}

func (o *Orchestrator) publish(topic event.Topic, payload any) {
	if o.opts.Bus != nil {
		_ = o.opts.Bus.PublishAsync(topic, payload)
	}
}

// MergeLines interleaves the two captured streams in timestamp order.
// On an exact timestamp tie stdout wins.
func MergeLines(stdout, stderr []OutputLine) []OutputLine {
	merged := make([]OutputLine, 0, len(stdout)+len(stderr))
	i, j := 0, 0
	for i < len(stdout) && j < len(stderr) {
		if stdout[i].Line.Timestamp.After(stderr[j].Line.Timestamp) {
			merged = append(merged, stderr[j])
			j++
		} else {
			merged = append(merged, stdout[i])
			i++
		}
	}
	merged = append(merged, stdout[i:]...)
	merged = append(merged, stderr[j:]...)
	return merged
}

// readStream scans one pipe, handing each line to the diagnostics
// filter immediately so panic reports reach the side-channel while
// the child is still running.
func (o *Orchestrator) readStream(r io.Reader, targetName string, stream diagnostics.Stream) []OutputLine {
	var lines []OutputLine
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := diagnostics.Line{
			Content:   scanner.Text(),
			Timestamp: time.Now(),
		}
		o.opts.Filter.Ingest(targetName, stream, line)
		lines = append(lines, OutputLine{Stream: stream, Line: line})
	}
	return lines
}

func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // inherit
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
