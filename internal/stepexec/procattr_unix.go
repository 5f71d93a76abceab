//go:build !windows

package stepexec

import (
	"os/exec"
	"syscall"
)

// killableProcAttr puts the child in its own process group so a timeout can
// SIGKILL the whole group rather than only the direct child.
func killableProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
