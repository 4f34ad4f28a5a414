//go:build unix

package runner

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup makes the command the leader of a new process group so
// the whole subtree can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) error { return signalGroup(pid, unix.SIGTERM) }

// killGroup is a variable so tests can simulate a failing SIGKILL.
var killGroup = func(pid int) error { return signalGroup(pid, unix.SIGKILL) }

// signalGroup signals every process in the group led by pid. A group that
// is already gone is not an error.
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
