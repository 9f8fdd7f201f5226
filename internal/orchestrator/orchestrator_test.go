package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/dshills/runcrate/internal/command"
	"github.com/dshills/runcrate/internal/diagnostics"
	"github.com/dshills/runcrate/internal/event"
	"github.com/dshills/runcrate/internal/target"
)

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests spawn through sh")
	}
	if opts.Filter == nil {
		opts.Filter = diagnostics.NewFilter(nil)
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(opts)
}

func shJob(name, script string) Job {
	return Job{
		Target: target.Target{Name: name, Kind: target.KindExample},
		Spec:   command.Spec{Prog: "sh", Args: []string{"-c", script}},
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	results := o.Run(context.Background(), []Job{
		shJob("ok", `echo hello; echo oops 1>&2; exit 3`),
	})

	r := results[0]
	if r.SpawnErr != nil {
		t.Fatalf("SpawnErr = %v", r.SpawnErr)
	}
	if r.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", r.ExitCode)
	}
	if len(r.Output) != 2 {
		t.Fatalf("captured %d lines, want 2: %+v", len(r.Output), r.Output)
	}
	var sawOut, sawErr bool
	for _, line := range r.Output {
		switch {
		case line.Stream == diagnostics.StreamStdout && line.Line.Content == "hello":
			sawOut = true
		case line.Stream == diagnostics.StreamStderr && line.Line.Content == "oops":
			sawErr = true
		}
	}
	if !sawOut || !sawErr {
		t.Errorf("streams missing: stdout=%v stderr=%v", sawOut, sawErr)
	}
}

func TestRunParsesDiagnostics(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	results := o.Run(context.Background(), []Job{
		shJob("diag", `printf 'error: something broke\n\n' 1>&2`),
	})

	r := results[0]
	if r.Summary.Errors != 1 {
		t.Errorf("Summary = %+v, want one error", r.Summary)
	}
	if len(r.Diagnostics) != 1 || r.Diagnostics[0].Message != "something broke" {
		t.Errorf("Diagnostics = %+v", r.Diagnostics)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	o := newTestOrchestrator(t, Options{Workers: 2})
	jobs := []Job{
		shJob("a", "sleep 0.3"),
		shJob("b", "sleep 0.3"),
		shJob("c", "sleep 0.3"),
		shJob("d", "sleep 0.3"),
	}

	start := time.Now()
	results := o.Run(context.Background(), jobs)
	elapsed := time.Since(start)

	for _, r := range results {
		if r.ExitCode != 0 {
			t.Errorf("%s exit = %d", r.TargetName, r.ExitCode)
		}
	}
	// Two workers over four 300ms jobs need at least two batches.
	if elapsed < 550*time.Millisecond {
		t.Errorf("elapsed %v, want >= 550ms with 2 workers", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Errorf("elapsed %v, jobs did not run concurrently", elapsed)
	}
}

func TestTimeoutKillsChild(t *testing.T) {
	o := newTestOrchestrator(t, Options{
		Timeout: 200 * time.Millisecond,
		Grace:   100 * time.Millisecond,
	})

	start := time.Now()
	results := o.Run(context.Background(), []Job{shJob("slow", "sleep 10")})
	elapsed := time.Since(start)

	r := results[0]
	if !r.TimedOut {
		t.Error("TimedOut = false")
	}
	if r.ExitCode == 0 {
		t.Errorf("ExitCode = 0 for a killed child")
	}
	if elapsed > 3*time.Second {
		t.Errorf("elapsed %v, want bounded by timeout+grace", elapsed)
	}
}

func TestSpawnFailureDoesNotStopQueue(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	results := o.Run(context.Background(), []Job{
		{
			Target: target.Target{Name: "ghost", Kind: target.KindBinary},
			Spec:   command.Spec{Prog: "/nonexistent/definitely-not-here"},
		},
		shJob("ok", "true"),
	})

	if results[0].SpawnErr == nil {
		t.Error("first SpawnErr = nil, want spawn failure")
	}
	if results[1].SpawnErr != nil || results[1].ExitCode != 0 {
		t.Errorf("second result = %+v, want clean run", results[1])
	}
}

func TestShutdownDropsQueuedJobs(t *testing.T) {
	o := newTestOrchestrator(t, Options{
		Workers: 1,
		Grace:   100 * time.Millisecond,
	})
	jobs := []Job{
		shJob("running", "sleep 10"),
		shJob("queued", "true"),
	}

	done := make(chan []Result, 1)
	go func() { done <- o.Run(context.Background(), jobs) }()

	time.Sleep(300 * time.Millisecond)
	o.Shutdown()

	select {
	case results := <-done:
		if !results[0].Cancelled && !results[0].TimedOut && results[0].ExitCode == 0 {
			t.Errorf("in-flight result = %+v, want killed", results[0])
		}
		if !results[1].Cancelled || !errors.Is(results[1].SpawnErr, ErrShutdown) {
			t.Errorf("queued result = %+v, want dropped by shutdown", results[1])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestCancelInflightKeepsQueue(t *testing.T) {
	o := newTestOrchestrator(t, Options{
		Workers: 1,
		Grace:   100 * time.Millisecond,
	})
	jobs := []Job{
		shJob("victim", "sleep 10"),
		shJob("survivor", "true"),
	}

	done := make(chan []Result, 1)
	go func() { done <- o.Run(context.Background(), jobs) }()

	time.Sleep(300 * time.Millisecond)
	o.CancelInflight()

	select {
	case results := <-done:
		if !results[0].Cancelled {
			t.Errorf("in-flight result = %+v, want cancelled", results[0])
		}
		if results[1].ExitCode != 0 || results[1].Cancelled {
			t.Errorf("queued result = %+v, want to keep running", results[1])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after CancelInflight")
	}
}

func TestInterruptSignalCancelsInflight(t *testing.T) {
	o := newTestOrchestrator(t, Options{
		Workers: 1,
		Grace:   100 * time.Millisecond,
	})
	jobs := []Job{
		shJob("victim", "sleep 10"),
		shJob("survivor", "true"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	go o.HandleInterrupts(ctx, sigs)

	done := make(chan []Result, 1)
	go func() { done <- o.Run(context.Background(), jobs) }()

	time.Sleep(300 * time.Millisecond)
	sigs <- os.Interrupt

	select {
	case results := <-done:
		if !results[0].Cancelled {
			t.Errorf("in-flight result = %+v, want cancelled by the interrupt", results[0])
		}
		if results[1].ExitCode != 0 || results[1].Cancelled {
			t.Errorf("queued result = %+v, want to keep running", results[1])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the interrupt")
	}
}

func TestPanicReportReachesBusBeforeExit(t *testing.T) {
	bus := event.NewBus(16)
	defer bus.Stop(context.Background())

	reported := make(chan time.Time, 1)
	bus.SubscribeFunc(event.TopicPanicReport, func(_ context.Context, _ event.Event) {
		select {
		case reported <- time.Now():
		default:
		}
	})

	o := newTestOrchestrator(t, Options{
		Bus:    bus,
		Filter: diagnostics.NewFilter(bus),
	})

	start := time.Now()
	results := o.Run(context.Background(), []Job{
		shJob("panicky",
			`echo "thread 'main' panicked at src/main.rs:3:5: boom" 1>&2; sleep 1`),
	})
	elapsed := time.Since(start)

	if elapsed < 900*time.Millisecond {
		t.Fatalf("child finished in %v, too fast to observe streaming", elapsed)
	}
	select {
	case at := <-reported:
		if since := at.Sub(start); since > 700*time.Millisecond {
			t.Errorf("panic report arrived %v after start, want while the child still runs", since)
		}
	case <-time.After(time.Second):
		t.Fatal("no panic report on the bus")
	}
	if results[0].Summary.Errors != 1 {
		t.Errorf("Summary = %+v, want the panic counted", results[0].Summary)
	}
}

func TestRunAllBatchesBoundedByTimeout(t *testing.T) {
	o := newTestOrchestrator(t, Options{
		Workers: 2,
		Timeout: 250 * time.Millisecond,
		Grace:   100 * time.Millisecond,
	})
	jobs := []Job{
		shJob("a", "sleep 10"),
		shJob("b", "sleep 10"),
		shJob("c", "sleep 10"),
		shJob("d", "sleep 10"),
	}

	start := time.Now()
	results := o.Run(context.Background(), jobs)
	elapsed := time.Since(start)

	for _, r := range results {
		if !r.TimedOut {
			t.Errorf("%s TimedOut = false", r.TargetName)
		}
		if r.ExitCode == 0 {
			t.Errorf("%s ExitCode = 0 for a killed child", r.TargetName)
		}
	}
	// Four hung targets over two workers run as two timeout-bounded
	// batches.
	if elapsed < 500*time.Millisecond {
		t.Errorf("elapsed %v, want >= two 250ms timeout batches", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Errorf("elapsed %v, want bounded by 2*(timeout+grace)", elapsed)
	}
}

func TestMergeLinesStdoutWinsTies(t *testing.T) {
	ts := time.Now()
	mk := func(stream diagnostics.Stream, content string, at time.Time) OutputLine {
		return OutputLine{Stream: stream, Line: diagnostics.Line{Content: content, Timestamp: at}}
	}

	merged := MergeLines(
		[]OutputLine{mk(diagnostics.StreamStdout, "out-tie", ts), mk(diagnostics.StreamStdout, "out-late", ts.Add(2*time.Millisecond))},
		[]OutputLine{mk(diagnostics.StreamStderr, "err-tie", ts), mk(diagnostics.StreamStderr, "err-mid", ts.Add(time.Millisecond))},
	)

	got := make([]string, len(merged))
	for i, line := range merged {
		got[i] = line.Line.Content
	}
	want := []string{"out-tie", "err-tie", "err-mid", "out-late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged = %v, want %v", got, want)
		}
	}
}

func TestPruneWindow(t *testing.T) {
	now := time.Now()
	times := []time.Time{
		now.Add(-3 * time.Second),
		now.Add(-1 * time.Second),
		now,
	}
	kept := pruneWindow(times, now)
	if len(kept) != 2 {
		t.Errorf("kept %d, want 2 inside the window", len(kept))
	}
}
