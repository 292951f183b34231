//go:build windows

package engine

import (
	"os/exec"
	"syscall"
)

// setProcAttr detaches the engine subprocess from the host's console
// so it survives the host's own console-control events.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000010} // CREATE_NEW_CONSOLE
}

func killProcessGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}
