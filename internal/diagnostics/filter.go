package diagnostics

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/runcrate/internal/event"
)

// Block convention patterns. rustc writes diagnostics to stderr; the
// filter still inspects both streams since plugins and scripts are
// free to emit the same shapes on stdout.
var (
	headerPattern     = regexp.MustCompile(`^(error|warning|note)(?:\[(\w+)\])?:\s*(.+)$`)
	locationPattern   = regexp.MustCompile(`^\s*-->\s+(.+?)(?::(\d+))?(?::(\d+))?\s*$`)
	decorationPattern = regexp.MustCompile(`^\s*(?:\d+\s*)?\|[\s~^_-]*$|^\s*[\^~]+\s*$`)
	gutterPattern     = regexp.MustCompile(`^\s*(?:\d+\s*)?\|`)
	noteLinePattern   = regexp.MustCompile(`^\s*=\s*note:\s*(.+)$`)
	helpLinePattern   = regexp.MustCompile(`^\s*(?:=|\|)?\s*help:\s*(.+)$`)
	panicPattern      = regexp.MustCompile(`^thread '([^']+)' panicked at (.+?):(\d+):(\d+):?\s*(.*)$`)
)

// pending is a diagnostic block under construction.
type pending struct {
	diag      Diagnostic
	condensed int
	panicMsg  bool // next line completes a panic report
	report    *PanicReport
}

// streamKey scopes parser state to one pipe of one target so
// interleaved stdout lines cannot corrupt a stderr block.
type streamKey struct {
	target string
	stream Stream
}

// Filter is the stateful streaming transformer. Safe for concurrent
// Ingest calls from the two reader goroutines of each target; all
// internal state is serialized behind one mutex.
type Filter struct {
	mu sync.Mutex

	// pending block per target+stream.
	blocks map[streamKey]*pending

	// ordered diagnostics per target.
	lists map[string][]Diagnostic

	// baseDirs resolves relative paths per target.
	baseDirs map[string]string

	// bus carries panic reports; nil disables the side-channel.
	bus *event.Bus
}

// NewFilter creates a filter. bus may be nil when the side-channel
// collaborators are disabled.
func NewFilter(bus *event.Bus) *Filter {
	return &Filter{
		blocks:   make(map[streamKey]*pending),
		lists:    make(map[string][]Diagnostic),
		baseDirs: make(map[string]string),
		bus:      bus,
	}
}

// SetBaseDir registers the directory relative diagnostic paths resolve
// against for a target, normally the manifest directory.
func (f *Filter) SetBaseDir(targetName, dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baseDirs[targetName] = dir
}

// Ingest feeds one line of output into the per-target parser.
func (f *Filter) Ingest(targetName string, stream Stream, line Line) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := streamKey{targetName, stream}
	content := line.Content

	// Panic signatures preempt block parsing: emit the side-channel
	// report without blocking the reader, and record an error.
	if m := panicPattern.FindStringSubmatch(content); m != nil {
		lineNum, _ := strconv.Atoi(m[3])
		col, _ := strconv.Atoi(m[4])
		report := &PanicReport{
			TargetName: targetName,
			Thread:     m[1],
			File:       f.resolvePath(targetName, m[2]),
			Line:       lineNum,
			Column:     col,
			Message:    m[5],
		}
		if report.Message == "" {
			// New-style rustc panics put the message on the next line.
			f.blocks[key] = &pending{panicMsg: true, report: report}
			return
		}
		f.emitPanic(targetName, report)
		return
	}

	if p, ok := f.blocks[key]; ok && p.panicMsg {
		p.report.Message = strings.TrimSpace(content)
		f.emitPanic(targetName, p.report)
		delete(f.blocks, key)
		return
	}

	// Blank line terminates the pending block.
	if strings.TrimSpace(content) == "" {
		f.flushLocked(key)
		return
	}

	if m := headerPattern.FindStringSubmatch(content); m != nil {
		// A new header flushes any unterminated block first.
		f.flushLocked(key)
		f.blocks[key] = &pending{diag: Diagnostic{
			Severity: Severity(m[1]),
			Code:     m[2],
			Message:  m[3],
		}}
		return
	}

	p, ok := f.blocks[key]
	if !ok {
		return // free-form output outside any block
	}

	switch {
	case locationPattern.MatchString(content):
		m := locationPattern.FindStringSubmatch(content)
		p.diag.File = f.resolvePath(targetName, m[1])
		p.diag.Line, _ = strconv.Atoi(m[2])
		p.diag.Column, _ = strconv.Atoi(m[3])
	case noteLinePattern.MatchString(content):
		m := noteLinePattern.FindStringSubmatch(content)
		p.diag.Message += "\nnote: " + m[1]
	case helpLinePattern.MatchString(content):
		m := helpLinePattern.FindStringSubmatch(content)
		p.diag.Message += "\nhelp: " + m[1]
	case decorationPattern.MatchString(content) || gutterPattern.MatchString(content):
		// Source excerpts and caret underlines are condensed, not
		// reproduced.
		p.condensed++
	default:
		// Continuation text outside the gutter ends the block.
		f.flushLocked(key)
	}
}

// Finalize flushes any pending block for the target, removes its
// parser state, and returns the per-severity summary. Call once per
// target after both streams close.
func (f *Filter) Finalize(targetName string) Summary {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.flushLocked(streamKey{targetName, StreamStdout})
	f.flushLocked(streamKey{targetName, StreamStderr})
	delete(f.baseDirs, targetName)

	var sum Summary
	for _, d := range f.lists[targetName] {
		switch d.Severity {
		case SeverityError:
			sum.Errors++
		case SeverityWarning:
			sum.Warnings++
		case SeverityNote:
			sum.Notes++
		}
	}
	return sum
}

// Diagnostics returns the ordered diagnostic list for a target.
func (f *Filter) Diagnostics(targetName string) []Diagnostic {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Diagnostic(nil), f.lists[targetName]...)
}

// Reset drops all state for a target so its stream can be re-ingested.
func (f *Filter) Reset(targetName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lists, targetName)
	delete(f.blocks, streamKey{targetName, StreamStdout})
	delete(f.blocks, streamKey{targetName, StreamStderr})
}

func (f *Filter) flushLocked(key streamKey) {
	p, ok := f.blocks[key]
	if !ok || p.panicMsg {
		delete(f.blocks, key)
		return
	}
	if p.condensed > 0 {
		p.diag.Message += "\n(" + strconv.Itoa(p.condensed) + " source lines condensed)"
	}
	f.lists[key.target] = append(f.lists[key.target], p.diag)
	delete(f.blocks, key)
}

func (f *Filter) resolvePath(targetName, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	base, ok := f.baseDirs[targetName]
	if !ok {
		return path
	}
	return filepath.Join(base, path)
}

func (f *Filter) emitPanic(targetName string, report *PanicReport) {
	f.lists[targetName] = append(f.lists[targetName], Diagnostic{
		Severity: SeverityError,
		File:     report.File,
		Line:     report.Line,
		Column:   report.Column,
		Message:  "panic: " + report.Message,
	})
	if f.bus != nil {
		// PublishAsync never blocks the reader goroutines.
		_ = f.bus.PublishAsync(event.TopicPanicReport, report)
	}
}
