//go:build windows

package queue

import (
	"os/exec"
	"strings"
	"syscall"
)

// buildCmd builds the command with the arguments joined into one native
// command line. Windows argument quoting mangles pre-quoted arguments when
// they are passed as a list; the assumption is that the caller set them up
// properly in the first place.
func (p *process) buildCmd() *exec.Cmd {
	cmd := exec.Command(p.program)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine: strings.Join(append([]string{p.program}, p.args...), " "),
	}
	return cmd
}

// terminate asks the child to exit. Windows has no graceful signal for
// console children started this way, so this kills outright and the armed
// fallback is a no-op.
func (p *process) terminate() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
