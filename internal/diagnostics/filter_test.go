package diagnostics

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/dshills/runcrate/internal/event"
)

var rustcOutput = []string{
	"   Compiling demo v0.1.0 (/proj)",
	"error[E0308]: mismatched types",
	"  --> src/main.rs:3:5",
	"   |",
	" 3 |     let x: i32 = \"five\";",
	"   |                  ^^^^^^ expected `i32`, found `&str`",
	"   |",
	"   = note: expected type `i32`",
	"",
	"warning: unused variable: `y`",
	"  --> src/main.rs:4:9",
	"   |",
	"help: consider prefixing with an underscore",
	"",
	"error: aborting due to 1 previous error",
	"",
}

func ingestAll(f *Filter, targetName string, lines []string) {
	now := time.Now()
	for i, line := range lines {
		f.Ingest(targetName, StreamStderr, Line{
			Content:   line,
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
}

func TestFilterCoalescesBlocks(t *testing.T) {
	f := NewFilter(nil)
	f.SetBaseDir("demo", "/proj")
	ingestAll(f, "demo", rustcOutput)
	sum := f.Finalize("demo")

	diags := f.Diagnostics("demo")
	if len(diags) != 3 {
		t.Fatalf("got %d diagnostics, want 3: %+v", len(diags), diags)
	}

	first := diags[0]
	if first.Severity != SeverityError || first.Code != "E0308" {
		t.Errorf("first = %+v, want error E0308", first)
	}
	if first.File != "/proj/src/main.rs" || first.Line != 3 || first.Column != 5 {
		t.Errorf("first location = %s:%d:%d, want /proj/src/main.rs:3:5",
			first.File, first.Line, first.Column)
	}
	if want := "mismatched types"; first.Message[:len(want)] != want {
		t.Errorf("first message = %q", first.Message)
	}

	second := diags[1]
	if second.Severity != SeverityWarning || second.Line != 4 {
		t.Errorf("second = %+v, want warning at line 4", second)
	}

	if sum.Errors != 2 || sum.Warnings != 1 || sum.Notes != 0 {
		t.Errorf("summary = %+v, want 2 errors 1 warning", sum)
	}
}

func TestFilterCondensesDecoration(t *testing.T) {
	f := NewFilter(nil)
	ingestAll(f, "demo", rustcOutput)
	f.Finalize("demo")

	first := f.Diagnostics("demo")[0]
	for _, bad := range []string{"^^^^^^", "let x"} {
		if contains(first.Message, bad) {
			t.Errorf("message reproduces decoration %q verbatim:\n%s", bad, first.Message)
		}
	}
	if !contains(first.Message, "condensed") {
		t.Errorf("message lacks condensed marker:\n%s", first.Message)
	}
	if !contains(first.Message, "note: expected type `i32`") {
		t.Errorf("= note: line not folded in:\n%s", first.Message)
	}
}

func TestFilterIdempotentReingest(t *testing.T) {
	run := func() []Diagnostic {
		f := NewFilter(nil)
		f.SetBaseDir("demo", "/proj")
		ingestAll(f, "demo", rustcOutput)
		f.Finalize("demo")
		return f.Diagnostics("demo")
	}

	first, second := run(), run()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-ingesting identical stream differs:\n%+v\n%+v", first, second)
	}
}

func TestFilterPanicSideChannel(t *testing.T) {
	bus := event.NewBus(8)
	reports := make(chan *PanicReport, 1)
	bus.SubscribeFunc(event.TopicPanicReport, func(_ context.Context, ev event.Event) {
		reports <- ev.Payload.(*PanicReport)
	})

	f := NewFilter(bus)
	f.SetBaseDir("demo", "/proj")
	ingestAll(f, "demo", []string{
		"thread 'main' panicked at src/main.rs:7:9:",
		"index out of bounds: the len is 3 but the index is 7",
	})
	f.Finalize("demo")
	bus.Stop(context.Background())

	select {
	case r := <-reports:
		if r.Thread != "main" || r.File != "/proj/src/main.rs" || r.Line != 7 {
			t.Errorf("report = %+v", r)
		}
		if !contains(r.Message, "index out of bounds") {
			t.Errorf("report message = %q", r.Message)
		}
	default:
		t.Fatal("no panic report published")
	}

	diags := f.Diagnostics("demo")
	if len(diags) != 1 || diags[0].Severity != SeverityError {
		t.Errorf("panic not recorded as error diagnostic: %+v", diags)
	}
}

func TestFilterOldStylePanicLine(t *testing.T) {
	f := NewFilter(nil)
	ingestAll(f, "demo", []string{
		"thread 'worker' panicked at src/lib.rs:1:1: boom",
	})
	f.Finalize("demo")

	diags := f.Diagnostics("demo")
	if len(diags) != 1 || !contains(diags[0].Message, "boom") {
		t.Errorf("diags = %+v, want single panic with message boom", diags)
	}
}

func TestFilterIgnoresFreeFormOutput(t *testing.T) {
	f := NewFilter(nil)
	ingestAll(f, "demo", []string{
		"hello from the example",
		"progress: 50%",
	})
	if sum := f.Finalize("demo"); sum.Total() != 0 {
		t.Errorf("free-form output produced diagnostics: %+v", sum)
	}
}

func TestFilterPerTargetIsolation(t *testing.T) {
	f := NewFilter(nil)
	ingestAll(f, "a", []string{"error: one", ""})
	ingestAll(f, "b", []string{"warning: two", ""})

	if sum := f.Finalize("a"); sum.Errors != 1 || sum.Warnings != 0 {
		t.Errorf("a summary = %+v", sum)
	}
	if sum := f.Finalize("b"); sum.Warnings != 1 || sum.Errors != 0 {
		t.Errorf("b summary = %+v", sum)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
