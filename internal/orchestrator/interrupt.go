package orchestrator

import (
	"context"
	"os"
	"time"
)

// Interrupt escalation: a single Ctrl-C cancels in-flight targets and
// lets the queue continue; escalationCount interrupts inside
// escalationWindow shut the whole run down.
const (
	escalationCount  = 3
	escalationWindow = 2 * time.Second
)

// HandleInterrupts consumes a signal channel and applies the
// escalation policy. It returns when ctx is done or after escalating
// to a full shutdown. Run it on its own goroutine.
func (o *Orchestrator) HandleInterrupts(ctx context.Context, sigs <-chan os.Signal) {
	var recent []time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sigs:
			if !ok {
				return
			}
			now := time.Now()
			recent = append(recent, now)
			recent = pruneWindow(recent, now)

			if len(recent) >= escalationCount {
				o.opts.Logger.Info("repeated interrupts, shutting down")
				o.Shutdown()
				return
			}
			o.opts.Logger.Info("interrupt, cancelling in-flight targets")
			o.CancelInflight()
		}
	}
}

func pruneWindow(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-escalationWindow)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
