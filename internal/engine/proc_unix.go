//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// setProcAttr isolates the engine subprocess into its own process
// group so signals sent to the host (e.g. Ctrl-C on a foreground
// terminal) do not reach it directly.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
