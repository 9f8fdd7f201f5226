// Package diagnostics converts raw interleaved build-tool output into
// structured, ordered diagnostic records and summary statistics.
//
// The filter understands rustc's multi-line block convention: a
// severity header, a "--> file:line:col" location, source/underline
// decoration, and trailing "= note:"/"help:" lines, terminated by a
// blank line. Each block coalesces into one Diagnostic.
package diagnostics

import "time"

// Severity classifies a diagnostic record.
type Severity string

const (
	// SeverityError is a hard error.
	SeverityError Severity = "error"
	// SeverityWarning is a warning.
	SeverityWarning Severity = "warning"
	// SeverityNote is an informational note.
	SeverityNote Severity = "note"
)

// Diagnostic is one structured record extracted from process output.
type Diagnostic struct {
	// Severity is error, warning, or note.
	Severity Severity `json:"severity"`

	// File is the absolute source path, resolved against the target's
	// manifest directory.
	File string `json:"file,omitempty"`

	// Line is the 1-based line number (0 if unknown).
	Line int `json:"line,omitempty"`

	// Column is the 1-based column number (0 if unknown).
	Column int `json:"column,omitempty"`

	// Message is the coalesced diagnostic text. Decoration lines are
	// condensed, notes and help lines are folded in.
	Message string `json:"message"`

	// Code is the optional error code (e.g. E0308).
	Code string `json:"code,omitempty"`
}

// Stream identifies the source pipe of a line.
type Stream int

const (
	// StreamStdout is standard output.
	StreamStdout Stream = iota
	// StreamStderr is standard error.
	StreamStderr
)

// String returns the stream name.
func (s Stream) String() string {
	if s == StreamStdout {
		return "stdout"
	}
	return "stderr"
}

// Line is one line of process output with its receipt timestamp.
type Line struct {
	Content   string
	Timestamp time.Time
}

// Summary is the per-severity count emitted on stream close.
type Summary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Notes    int `json:"notes"`
}

// Total returns the number of diagnostics counted.
func (s Summary) Total() int { return s.Errors + s.Warnings + s.Notes }

// PanicReport is the side-channel payload emitted when a panic
// signature appears mid-stream, handed to the external display/speech
// collaborators.
type PanicReport struct {
	TargetName string `json:"targetName"`
	Thread     string `json:"thread"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Column     int    `json:"column"`
	Message    string `json:"message"`
}
