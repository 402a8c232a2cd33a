//go:build !windows

package queue

import (
	"os/exec"
	"syscall"
)

// buildCmd builds the command with the argument list passed through as-is.
func (p *process) buildCmd() *exec.Cmd {
	return exec.Command(p.program, p.args...)
}

// terminate asks the child to exit gracefully.
func (p *process) terminate() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
}
