//go:build unix

package orchestrator

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the child in its own process group so group
// signals reach grandchildren (cargo spawning the real binary).
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroupInterrupt delivers SIGINT to the whole group.
func signalGroupInterrupt(pid int) error {
	return unix.Kill(-pid, unix.SIGINT)
}

// signalGroupKill delivers SIGKILL to the whole group.
func signalGroupKill(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}

// processAlive probes a pid with the null signal.
func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
