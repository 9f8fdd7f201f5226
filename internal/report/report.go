// Package report persists run reports and the per-target run history.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/runcrate/internal/orchestrator"
)

// RunReport is the persisted record of one invocation.
type RunReport struct {
	// ID is a random identifier for the run.
	ID string `json:"id"`

	// Root is the scanned project root.
	Root string `json:"root"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Results are the per-target outcomes in queue order.
	Results []TargetResult `json:"results"`

	// ExitStatus is the aggregate exit code for the process.
	ExitStatus int `json:"exitStatus"`
}

// TargetResult is the report-facing slice of an orchestrator result.
type TargetResult struct {
	TargetName string        `json:"targetName"`
	ExitCode   int           `json:"exitCode"`
	Duration   time.Duration `json:"duration"`
	Errors     int           `json:"errors"`
	Warnings   int           `json:"warnings"`
	TimedOut   bool          `json:"timedOut,omitempty"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	SpawnError string        `json:"spawnError,omitempty"`
}

// Build assembles a report from orchestrator results.
func Build(root string, startedAt time.Time, results []orchestrator.Result) *RunReport {
	r := &RunReport{
		ID:         uuid.NewString(),
		Root:       root,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	for i := range results {
		res := &results[i]
		tr := TargetResult{
			TargetName: res.TargetName,
			ExitCode:   res.ExitCode,
			Duration:   res.Duration,
			Errors:     res.Summary.Errors,
			Warnings:   res.Summary.Warnings,
			TimedOut:   res.TimedOut,
			Cancelled:  res.Cancelled,
		}
		if res.SpawnErr != nil {
			tr.SpawnError = res.SpawnErr.Error()
		}
		r.Results = append(r.Results, tr)
	}
	r.ExitStatus = AggregateExit(results)
	return r
}

// AggregateExit folds per-target results into one process exit code:
// the first non-zero child exit code, or 1 when a target failed
// without one (spawn error, timeout, cancellation), else 0.
func AggregateExit(results []orchestrator.Result) int {
	status := 0
	for i := range results {
		res := &results[i]
		if !res.Failed() {
			continue
		}
		if res.ExitCode > 0 {
			return res.ExitCode
		}
		status = 1
	}
	return status
}

// Write persists the report as JSON under dir, named by run ID, and
// returns the file path. The report is written exactly once per run.
func (r *RunReport) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("run-%s.json", r.ID))
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
