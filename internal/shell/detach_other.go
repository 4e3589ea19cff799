//go:build windows

package shell

import "os/exec"

func detach(cmd *exec.Cmd) {}
