//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// detach gives the background server its own process group so console
// Ctrl+C in the launching window does not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// stopSignals are ignored by the Windows PID file, which always kills.
func stopSignals() (term, kill syscall.Signal) {
	return syscall.SIGTERM, syscall.SIGKILL
}
