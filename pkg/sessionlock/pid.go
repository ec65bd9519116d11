package sessionlock

import (
	"errors"
	"os"
	"syscall"
)

// pidAlive reports whether a process with the given PID exists. It sends the
// null signal; a permission error still means the process exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
