//go:build windows

package orchestrator

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// sysProcAttr creates the child in a new process group so console
// control events do not leak between children.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// signalGroupInterrupt sends a console control break to the child's
// group, the closest Windows analogue of SIGINT.
func signalGroupInterrupt(pid int) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
}

// signalGroupKill terminates the child process.
func signalGroupKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// processAlive checks the process exit code through a query handle.
func processAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == uint32(windows.STILL_ACTIVE)
}
