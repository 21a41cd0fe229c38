//go:build unix

package extractor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes the backend lead its own group so the whole tree can be signalled.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func signalGroup(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}
	return syscall.Kill(-pgid, sig)
}
