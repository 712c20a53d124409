//go:build windows

package launch

import (
	"os"
	"os/exec"
	"syscall"
)

// detach starts the child in its own process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminate has no polite equivalent on Windows; the caller escalates
// to Kill after the grace window anyway.
func terminate(proc *os.Process) error {
	return proc.Kill()
}
