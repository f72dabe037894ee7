//go:build !unix

package transport

import "os"

func exitStatus(pid int, state *os.ProcessState) ExitStatus {
	status := ExitStatus{PID: pid}
	if state == nil {
		return status
	}
	if code := state.ExitCode(); code >= 0 {
		status.Code = &code
	}
	return status
}
