//go:build !unix

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// Set is a no-op where process groups are unavailable
func Set(cmd *exec.Cmd) {}

// Kill signals the process itself
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(os.Interrupt)
}
