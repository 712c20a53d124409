//go:build !windows

package launch

import (
	"os"
	"os/exec"
	"syscall"
)

// detach starts the child in its own session so it survives the
// launcher when requested.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// terminate delivers the polite termination signal.
func terminate(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
