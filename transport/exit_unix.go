//go:build unix

package transport

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func exitStatus(pid int, state *os.ProcessState) ExitStatus {
	status := ExitStatus{PID: pid}
	if state == nil {
		return status
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = unix.SignalName(ws.Signal())
		if status.Signal == "" {
			status.Signal = ws.Signal().String()
		}
		return status
	}
	code := state.ExitCode()
	status.Code = &code
	return status
}
