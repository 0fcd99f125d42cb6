// SPDX-License-Identifier: MPL-2.0

//go:build windows

package supervise

import (
	"os/exec"
	"syscall"
)

// DetachedSysProcAttr creates the child in a new process group so console
// Ctrl-C events do not propagate.
func DetachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminate has no graceful POSIX signal on Windows; Kill is the stop path.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// kill forcefully stops the child.
func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
