// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package supervise

import (
	"os/exec"
	"syscall"
)

// DetachedSysProcAttr puts a child in its own process group. Terminal
// signals aimed at the orchestrator's group then skip the children, and a
// detached child survives the foreground's exit.
func DetachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends the graceful stop signal.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(syscall.SIGTERM)
}

// kill sends the forceful stop signal.
func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
