package queue

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
)

// process is the single external process handle owned by a Runner. Its
// configuration and state are only touched from the runner's event loop;
// the wait goroutine reports back through the exited callback, which the
// runner marshals onto the loop before mutating anything.
type process struct {
	program string
	args    []string

	cmd     *exec.Cmd
	running bool
	pid     int

	// onOutput receives raw merged stdout/stderr lines from the scanner
	// goroutine.
	onOutput func(line string)

	// exited receives the outcome of Wait. err is non-nil only for
	// transport failures where no exit code exists.
	exited func(code int, err error)
}

// setCommand configures the program and arguments for the next launch.
func (p *process) setCommand(args []string) {
	p.program = args[0]
	p.args = args[1:]
}

// clearProgram forgets the configured program, forcing re-configuration
// before the next launch.
func (p *process) clearProgram() {
	p.program = ""
	p.args = nil
}

// Program returns the configured program, or "" if none is set.
func (p *process) Program() string { return p.program }

// Running reports whether a child process is currently alive.
func (p *process) Running() bool { return p.running }

// start launches the configured command. Stdout and stderr are merged into
// a single line stream.
func (p *process) start() error {
	cmd := p.buildCmd()
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return err
	}
	p.cmd = cmd
	p.running = true
	p.pid = cmd.Process.Pid
	go p.scan(pr)
	go func() {
		err := cmd.Wait()
		pw.Close()
		code := 0
		if err != nil {
			var xe *exec.ExitError
			if errors.As(err, &xe) {
				// Includes death by signal, which reports -1.
				code = xe.ExitCode()
				err = nil
			}
		}
		p.exited(code, err)
	}()
	return nil
}

// markStopped records that the child has exited. Called from the runner
// loop once the exit has been marshaled back.
func (p *process) markStopped() {
	p.running = false
	p.pid = 0
	p.cmd = nil
}

// scan forwards merged output lines to the onOutput callback.
func (p *process) scan(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.onOutput(sc.Text())
	}
}

// kill forcefully kills the child, if any.
func (p *process) kill() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
