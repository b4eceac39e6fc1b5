//go:build !windows

package controller

import (
	"fmt"
	"os/exec"
	"syscall"
)

// configureProcAttr puts the server in its own process group, so teardown
// can signal the server together with any children it spawned.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcessGroup sends a signal to the entire process group. If the
// group signal fails, the individual process is signaled as a fallback.
func killProcessGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		if err2 := syscall.Kill(pid, sig); err2 != nil {
			return fmt.Errorf("failed to signal process group -%d: %v, and process %d: %v", pid, err, pid, err2)
		}
	}
	return nil
}
