//go:build !windows

package shell

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own session so it outlives us.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
