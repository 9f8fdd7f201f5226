package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/dshills/runcrate/internal/config"
	"github.com/dshills/runcrate/internal/diagnostics"
	"github.com/dshills/runcrate/internal/event"
	"github.com/dshills/runcrate/internal/orchestrator"
)

// wireCollaborators subscribes the configured external commands to the
// event bus. The viewer receives panic report JSON on stdin; the
// speech command receives one-line run summaries. Both are best-effort
// and never fail a run.
func wireCollaborators(bus *event.Bus, cfg *config.Config, logger *slog.Logger) {
	if cmd := cfg.Collaborators.ViewerCmd; cmd != "" {
		bus.SubscribeFunc(event.TopicPanicReport, func(_ context.Context, ev event.Event) {
			report, ok := ev.Payload.(*diagnostics.PanicReport)
			if !ok {
				return
			}
			payload, err := json.Marshal(report)
			if err != nil {
				return
			}
			feedCollaborator(cmd, append(payload, '\n'), logger)
		})
	}

	if cmd := cfg.Collaborators.TTSCmd; cmd != "" {
		bus.SubscribeFunc(event.TopicRunCompleted, func(_ context.Context, ev event.Event) {
			res, ok := ev.Payload.(*orchestrator.Result)
			if !ok {
				return
			}
			feedCollaborator(cmd, []byte(speakResult(res)+"\n"), logger)
		})
	}
}

// feedCollaborator spawns the command with input on stdin. The spawn
// and wait happen off the bus goroutine so a slow collaborator never
// stalls event delivery.
func feedCollaborator(cmdline string, input []byte, logger *slog.Logger) {
	argv := splitCommand(cmdline)
	if len(argv) == 0 {
		return
	}
	go func() {
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Stdin = strings.NewReader(string(input))
		if err := cmd.Run(); err != nil {
			logger.Debug("collaborator command failed",
				"command", argv[0], "error", err)
		}
	}()
}

// splitCommand breaks a configured command line on whitespace. No
// shell is involved; quoting is not interpreted.
func splitCommand(cmdline string) []string {
	return strings.Fields(cmdline)
}

// speakResult renders a result as one spoken sentence.
func speakResult(res *orchestrator.Result) string {
	switch {
	case res.SpawnErr != nil:
		return fmt.Sprintf("%s failed to start", res.TargetName)
	case res.TimedOut:
		return fmt.Sprintf("%s timed out", res.TargetName)
	case res.Cancelled:
		return fmt.Sprintf("%s was cancelled", res.TargetName)
	case res.ExitCode != 0:
		return fmt.Sprintf("%s exited with code %d, %d errors",
			res.TargetName, res.ExitCode, res.Summary.Errors)
	case res.Summary.Warnings > 0:
		return fmt.Sprintf("%s finished with %d warnings",
			res.TargetName, res.Summary.Warnings)
	default:
		return fmt.Sprintf("%s finished", res.TargetName)
	}
}
